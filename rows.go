package dbrest

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/ambiyansyah-risyal/dbrest/internal/wire"
)

// Format is the response format of a row query.
type Format string

const (
	FormatJSON      Format = "json"
	FormatXML       Format = "xml"
	FormatJSONSeq   Format = "json-seq"
	FormatCSV       Format = "csv"
	FormatMultipart Format = "multipart"
)

// Output shapes each row as an object or an array.
type Output string

const (
	OutputObject Output = "object"
	OutputArray  Output = "array"
)

// RowFormat is the format of each part of a multipart row response.
type RowFormat string

const (
	RowFormatJSON RowFormat = "json"
	RowFormatXML  RowFormat = "xml"
)

// ColumnTypes selects where column types are reported.
type ColumnTypes string

const (
	ColumnTypesRows   ColumnTypes = "rows"
	ColumnTypesHeader ColumnTypes = "header"
)

// ExplainFormat is the response format of an explain request.
type ExplainFormat string

const (
	ExplainJSON ExplainFormat = "json"
	ExplainXML  ExplainFormat = "xml"
)

// Consume selects whether a single body becomes one item or one item per row.
type Consume string

const (
	ConsumeValue Consume = "value"
	ConsumeRows  Consume = "rows"
)

var (
	formats        = []Format{FormatJSON, FormatXML, FormatJSONSeq, FormatCSV, FormatMultipart}
	outputs        = []Output{OutputObject, OutputArray}
	rowFormats     = []RowFormat{RowFormatJSON, RowFormatXML}
	columnTypes    = []ColumnTypes{ColumnTypesRows, ColumnTypesHeader}
	explainFormats = []ExplainFormat{ExplainJSON, ExplainXML}
	consumeModes   = []Consume{ConsumeValue, ConsumeRows}
)

// checkEnum returns v, or def when v is empty, or an *InvalidOptionError.
func checkEnum[T ~string](operation, option string, v, def T, allowed []T) (T, error) {
	if v == "" {
		return def, nil
	}
	if slices.Contains(allowed, v) {
		return v, nil
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return v, &InvalidOptionError{Operation: operation, Option: option, Value: string(v), Allowed: names}
}

// RowsOptions configure a row query. Zero values take the defaults: json
// format, object output, json row format, column types in rows, one item
// per row.
type RowsOptions struct {
	Format      Format      `mapstructure:"format"`
	Output      Output      `mapstructure:"output"`
	RowFormat   RowFormat   `mapstructure:"rowFormat"`
	ColumnTypes ColumnTypes `mapstructure:"columnTypes"`
	Bindings    Bindings    `mapstructure:"-"`
	Consume     Consume     `mapstructure:"consume"`
}

// ValidatedRowsOptions is a fully defaulted RowsOptions with its bindings
// already encoded.
type ValidatedRowsOptions struct {
	Format      Format
	Output      Output
	RowFormat   RowFormat
	ColumnTypes ColumnTypes
	Consume     Consume
	Bindings    []QueryParam
}

// Validate checks format, output, rowFormat, columnTypes, bindings and
// consume in that order and returns the first error.
func (o RowsOptions) Validate() (ValidatedRowsOptions, error) {
	var (
		v   ValidatedRowsOptions
		err error
	)
	if v.Format, err = checkEnum("rows", "format", o.Format, FormatJSON, formats); err != nil {
		return ValidatedRowsOptions{}, err
	}
	if v.Output, err = checkEnum("rows", "output", o.Output, OutputObject, outputs); err != nil {
		return ValidatedRowsOptions{}, err
	}
	if v.RowFormat, err = checkEnum("rows", "rowFormat", o.RowFormat, RowFormatJSON, rowFormats); err != nil {
		return ValidatedRowsOptions{}, err
	}
	if v.ColumnTypes, err = checkEnum("rows", "columnTypes", o.ColumnTypes, ColumnTypesRows, columnTypes); err != nil {
		return ValidatedRowsOptions{}, err
	}
	if v.Bindings, err = EncodeBindings(o.Bindings); err != nil {
		return ValidatedRowsOptions{}, err
	}
	if v.Consume, err = checkEnum("rows", "consume", o.Consume, ConsumeRows, consumeModes); err != nil {
		return ValidatedRowsOptions{}, err
	}
	return v, nil
}

// Query returns the query string parameters: bindings first, then the
// format parameters the server understands for this format.
func (v ValidatedRowsOptions) Query() *wire.Query {
	q := &wire.Query{}
	q.Append(v.Bindings...)

	switch v.Format {
	case FormatXML:
	case FormatMultipart:
		if v.RowFormat == RowFormatXML {
			q.AddRaw("row-format", string(RowFormatXML))
			break
		}
		q.AddRaw("output", string(v.Output))
		q.AddRaw("row-format", string(v.RowFormat))
		q.AddRaw("column-types", string(v.ColumnTypes))
	default:
		q.AddRaw("output", string(v.Output))
		q.AddRaw("column-types", string(v.ColumnTypes))
	}
	return q
}

// Accept returns the Accept header negotiated for the format.
func (v ValidatedRowsOptions) Accept() string {
	switch v.Format {
	case FormatMultipart:
		return wire.MultipartMixed()
	case FormatCSV:
		return wire.MediaCSV
	}
	return "application/" + string(v.Format)
}

var rowsOptionKeys = []string{"format", "output", "rowFormat", "columnTypes", "bindings", "consume"}

// DecodeRowsOptions reads RowsOptions from a loosely typed bag. Nil values
// count as absent; unknown keys are rejected. Bindings may be given as
// Bindings or as a map accepted by BindingsFromMap.
func DecodeRowsOptions(bag map[string]any) (RowsOptions, error) {
	input := make(map[string]any, len(bag))
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !slices.Contains(rowsOptionKeys, k) {
			return RowsOptions{}, &InvalidOptionError{Operation: "rows", Option: k, Value: fmt.Sprint(bag[k]), Allowed: rowsOptionKeys}
		}
		if bag[k] != nil {
			input[k] = bag[k]
		}
	}

	var opts RowsOptions
	if raw, ok := input["bindings"]; ok {
		delete(input, "bindings")
		b, err := decodeBindings(raw)
		if err != nil {
			return RowsOptions{}, err
		}
		opts.Bindings = b
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return RowsOptions{}, err
	}
	if err := dec.Decode(input); err != nil {
		return RowsOptions{}, &InvalidOptionError{Operation: "rows", Option: "options", Value: err.Error()}
	}
	return opts, nil
}

func decodeBindings(raw any) (Bindings, error) {
	switch b := raw.(type) {
	case Bindings:
		return b, nil
	case []Binding:
		return Bindings(b), nil
	case map[string]any:
		return BindingsFromMap(b)
	}
	return nil, &InvalidOptionError{Operation: "rows", Option: "bindings", Value: fmt.Sprintf("%T", raw)}
}

// ExplainOptions configure an explain request.
type ExplainOptions struct {
	Format ExplainFormat
}

// RowsService executes plans against the rows endpoint.
type RowsService struct {
	client *Client
}

// Rows returns the row query service.
func (c *Client) Rows() *RowsService {
	return &RowsService{client: c}
}

// Query validates opts, serializes plan and starts the query. Validation
// and serialization errors are returned before any request is made; every
// later failure is reported through the provider. A 404 resolves with no
// items.
func (s *RowsService) Query(ctx context.Context, plan Plan, opts RowsOptions) (*ResultProvider[Item], error) {
	op, err := s.queryOperation(plan, opts)
	if err != nil {
		return nil, err
	}
	return s.client.requester.StartRequest(ctx, op), nil
}

func (s *RowsService) queryOperation(plan Plan, opts RowsOptions) (*Operation, error) {
	v, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	body, err := serializePlan(plan)
	if err != nil {
		return nil, err
	}

	op := s.client.newOperation("query rows", http.MethodPost, v.Query().Path("/v1/rows"))
	op.Request.Header.Set("Content-Type", wire.MediaJSON)
	op.Request.Header.Set("Accept", v.Accept())
	op.OutboundShape = ShapeSingle
	if v.Format == FormatMultipart {
		op.InboundShape = ShapeMultipart
	}
	op.ValidStatusCodes = []int{http.StatusOK, http.StatusNotFound}
	op.EmptyStatusCodes = []int{http.StatusNotFound}
	op.Consume = v.Consume
	op.Body = body
	return op, nil
}

// Explain returns the server's execution plan for plan as one item.
func (s *RowsService) Explain(ctx context.Context, plan Plan, opts ExplainOptions) (*ResultProvider[Item], error) {
	op, err := s.explainOperation(plan, opts)
	if err != nil {
		return nil, err
	}
	return s.client.requester.StartRequest(ctx, op), nil
}

func (s *RowsService) explainOperation(plan Plan, opts ExplainOptions) (*Operation, error) {
	format, err := checkEnum("explain", "format", opts.Format, ExplainJSON, explainFormats)
	if err != nil {
		return nil, err
	}
	body, err := serializePlan(plan)
	if err != nil {
		return nil, err
	}

	q := (&wire.Query{}).AddRaw("output", "explain")
	op := s.client.newOperation("explain rows", http.MethodPost, q.Path("/v1/rows"))
	op.Request.Header.Set("Content-Type", wire.MediaJSON)
	op.Request.Header.Set("Accept", "application/"+string(format))
	op.OutboundShape = ShapeSingle
	op.ValidStatusCodes = []int{http.StatusOK, http.StatusNotFound}
	op.EmptyStatusCodes = []int{http.StatusNotFound}
	op.Body = body
	return op, nil
}

func serializePlan(plan Plan) ([]byte, error) {
	if plan == nil {
		return nil, &InvalidOptionError{Operation: "rows", Option: "plan", Value: "<nil>"}
	}
	body, err := plan.Serialize()
	if err != nil {
		return nil, fmt.Errorf("dbrest: serialize plan: %w", err)
	}
	return body, nil
}
