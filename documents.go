package dbrest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-json"

	"github.com/ambiyansyah-risyal/dbrest/internal/demux"
	"github.com/ambiyansyah-risyal/dbrest/internal/wire"
)

// Category selects which parts of a stored document a read returns.
type Category string

const (
	CategoryContent        Category = "content"
	CategoryMetadata       Category = "metadata"
	CategoryCollections    Category = "collections"
	CategoryPermissions    Category = "permissions"
	CategoryProperties     Category = "properties"
	CategoryQuality        Category = "quality"
	CategoryMetadataValues Category = "metadata-values"
)

var categories = []Category{
	CategoryContent, CategoryMetadata, CategoryCollections, CategoryPermissions,
	CategoryProperties, CategoryQuality, CategoryMetadataValues,
}

// Permission grants capabilities (read, update, insert, execute) to a role.
type Permission struct {
	RoleName     string   `json:"role-name"    mapstructure:"role-name"`
	Capabilities []string `json:"capabilities" mapstructure:"capabilities"`
}

// DocumentMetadata is the metadata stored alongside a document.
type DocumentMetadata struct {
	Collections    []string          `json:"collections,omitempty"    mapstructure:"collections"`
	Permissions    []Permission      `json:"permissions,omitempty"    mapstructure:"permissions"`
	Properties     map[string]any    `json:"properties,omitempty"     mapstructure:"properties"`
	Quality        *int              `json:"quality,omitempty"        mapstructure:"quality"`
	MetadataValues map[string]string `json:"metadataValues,omitempty" mapstructure:"metadataValues"`
}

func (m *DocumentMetadata) empty() bool {
	return m == nil || (len(m.Collections) == 0 && len(m.Permissions) == 0 &&
		len(m.Properties) == 0 && m.Quality == nil && len(m.MetadataValues) == 0)
}

// Document is a stored document. On reads Content holds the decoded body
// (see Item); on writes it may be []byte, string, io.Reader or any value
// marshalled as JSON.
type Document struct {
	URI         string
	ContentType string
	Format      string
	Content     any
	Metadata    *DocumentMetadata
	// TemporalCollection and SystemTime apply to writes into a temporal collection.
	TemporalCollection string
	SystemTime         time.Time
}

// DocumentDescriptor identifies a written or removed document.
type DocumentDescriptor struct {
	URI         string
	ContentType string
}

// Transform names a server-side transform and its parameters.
type Transform struct {
	Name   string
	Params map[string]string
}

func (t *Transform) apply(operation string, q *wire.Query) error {
	if t == nil {
		return nil
	}
	if t.Name == "" {
		return &InvalidOptionError{Operation: operation, Option: "transform", Value: ""}
	}
	q.Add("transform", t.Name)
	for _, k := range slices.Sorted(maps.Keys(t.Params)) {
		q.Add("trans:"+k, t.Params[k])
	}
	return nil
}

// ReadOptions select the documents to read and what to return for each.
type ReadOptions struct {
	URIs       []string
	Categories []Category
	Transform  *Transform
}

// WriteOptions apply a transform on write.
type WriteOptions struct {
	Transform *Transform
}

// RemoveOptions select the documents to remove.
type RemoveOptions struct {
	URIs               []string
	TemporalCollection string
}

// DocumentsService reads, writes and removes documents.
type DocumentsService struct {
	client *Client
}

// Documents returns the document service.
func (c *Client) Documents() *DocumentsService {
	return &DocumentsService{client: c}
}

// Read fetches documents. A missing document resolves with no items.
func (s *DocumentsService) Read(ctx context.Context, opts ReadOptions) (*ResultProvider[Document], error) {
	op, cats, err := s.readOperation(opts)
	if err != nil {
		return nil, err
	}
	src := s.client.requester.StartRequest(ctx, op)

	if op.InboundShape == ShapeSingle {
		uri := opts.URIs[0]
		return pipeProvider(ctx, src, func(item Item) ([]Document, error) {
			return []Document{{URI: uri, ContentType: item.ContentType, Content: item.Content}}, nil
		}, nil), nil
	}

	m := newDocumentMerger(slices.Contains(cats, CategoryContent))
	return pipeProvider(ctx, src, m.add, m.flush), nil
}

func (s *DocumentsService) readOperation(opts ReadOptions) (*Operation, []Category, error) {
	const name = "read documents"
	if len(opts.URIs) == 0 {
		return nil, nil, &InvalidOptionError{Operation: name, Option: "uris", Value: "[]"}
	}
	cats := opts.Categories
	if len(cats) == 0 {
		cats = []Category{CategoryContent}
	}

	q := &wire.Query{}
	for _, uri := range opts.URIs {
		if uri == "" {
			return nil, nil, &InvalidOptionError{Operation: name, Option: "uri", Value: ""}
		}
		q.Add("uri", uri)
	}
	for _, c := range cats {
		if _, err := checkEnum(name, "category", c, CategoryContent, categories); err != nil {
			return nil, nil, err
		}
		q.AddRaw("category", string(c))
	}
	multi := len(opts.URIs) > 1 || slices.ContainsFunc(cats, func(c Category) bool { return c != CategoryContent })
	if multi {
		q.AddRaw("format", "json")
	}
	if err := opts.Transform.apply(name, q); err != nil {
		return nil, nil, err
	}

	op := s.client.newOperation(name, http.MethodGet, q.Path("/v1/documents"))
	if multi {
		op.Request.Header.Set("Accept", wire.MultipartMixed())
		op.InboundShape = ShapeMultipart
	}
	op.ValidStatusCodes = []int{http.StatusOK, http.StatusNotFound}
	op.EmptyStatusCodes = []int{http.StatusNotFound}
	op.Consume = ConsumeValue
	return op, cats, nil
}

// documentMerger folds metadata parts into the content part of the same
// document that follows them.
type documentMerger struct {
	withContent bool
	pending     map[string]*DocumentMetadata
	order       []string
}

func newDocumentMerger(withContent bool) *documentMerger {
	return &documentMerger{withContent: withContent, pending: map[string]*DocumentMetadata{}}
}

func (m *documentMerger) add(item Item) ([]Document, error) {
	params := demux.DispositionParams(item)
	uri := params["filename"]

	if params["category"] != string(CategoryContent) && params["category"] != "" {
		meta, err := decodeMetadata(item.Content)
		if err != nil {
			return nil, fmt.Errorf("dbrest: metadata of %s: %w", uri, err)
		}
		if !m.withContent {
			return []Document{{URI: uri, Metadata: meta}}, nil
		}
		if _, seen := m.pending[uri]; !seen {
			m.order = append(m.order, uri)
		}
		m.pending[uri] = meta
		return nil, nil
	}

	doc := Document{URI: uri, ContentType: item.ContentType, Format: params["format"], Content: item.Content}
	if meta, ok := m.pending[uri]; ok {
		doc.Metadata = meta
		delete(m.pending, uri)
	}
	return []Document{doc}, nil
}

// flush emits metadata that never met its content.
func (m *documentMerger) flush() ([]Document, error) {
	var out []Document
	for _, uri := range m.order {
		if meta, ok := m.pending[uri]; ok {
			out = append(out, Document{URI: uri, Metadata: meta})
		}
	}
	return out, nil
}

func decodeMetadata(content any) (*DocumentMetadata, error) {
	meta := &DocumentMetadata{}
	if content == nil {
		return meta, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(content); err != nil {
		return nil, err
	}
	return meta, nil
}

// Write stores doc, with its metadata when it has any.
func (s *DocumentsService) Write(ctx context.Context, doc Document, opts WriteOptions) (*ResultProvider[DocumentDescriptor], error) {
	op, contentType, err := s.writeOperation(doc, opts)
	if err != nil {
		return nil, err
	}
	src := s.client.requester.StartRequest(ctx, op)
	desc := DocumentDescriptor{URI: doc.URI, ContentType: contentType}
	return pipeProvider(ctx, src, func(Item) ([]DocumentDescriptor, error) { return nil, nil },
		func() ([]DocumentDescriptor, error) { return []DocumentDescriptor{desc}, nil }), nil
}

func (s *DocumentsService) writeOperation(doc Document, opts WriteOptions) (*Operation, string, error) {
	const name = "write document"
	if doc.URI == "" {
		return nil, "", &InvalidOptionError{Operation: name, Option: "uri", Value: ""}
	}
	content, contentType, err := encodeContent(doc)
	if err != nil {
		return nil, "", err
	}

	q := (&wire.Query{}).Add("uri", doc.URI)
	if doc.TemporalCollection != "" {
		q.Add("temporal-collection", doc.TemporalCollection)
	}
	if !doc.SystemTime.IsZero() {
		q.Add("system-time", doc.SystemTime.UTC().Format(time.RFC3339))
	}
	if err := opts.Transform.apply(name, q); err != nil {
		return nil, "", err
	}

	op := s.client.newOperation(name, http.MethodPut, q.Path("/v1/documents"))
	op.OutboundShape = ShapeSingle
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusCreated, http.StatusNoContent}

	if doc.Metadata.empty() {
		op.Request.Header.Set("Content-Type", contentType)
		op.Body = content
		return op, contentType, nil
	}

	body, err := multipartDocument(doc.Metadata, content, contentType)
	if err != nil {
		return nil, "", err
	}
	op.OutboundShape = ShapeMultipart
	op.Request.Header.Set("Content-Type", wire.MultipartMixed())
	op.Body = body
	return op, contentType, nil
}

func encodeContent(doc Document) ([]byte, string, error) {
	contentType := doc.ContentType
	var (
		body []byte
		err  error
	)
	switch c := doc.Content.(type) {
	case nil:
		return nil, "", &InvalidOptionError{Operation: "write document", Option: "content", Value: "<nil>"}
	case []byte:
		body = c
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	case string:
		body = []byte(c)
		if contentType == "" {
			contentType = "text/plain"
		}
	case io.Reader:
		if body, err = io.ReadAll(c); err != nil {
			return nil, "", fmt.Errorf("dbrest: read content of %s: %w", doc.URI, err)
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	default:
		if body, err = json.Marshal(c); err != nil {
			return nil, "", fmt.Errorf("dbrest: encode content of %s: %w", doc.URI, err)
		}
		if contentType == "" {
			contentType = wire.MediaJSON
		}
	}
	return body, contentType, nil
}

// multipartDocument builds the metadata part followed by the content part.
func multipartDocument(meta *DocumentMetadata, content []byte, contentType string) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("dbrest: encode metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(wire.Boundary); err != nil {
		return nil, err
	}

	parts := []struct {
		header textproto.MIMEHeader
		body   []byte
	}{
		{textproto.MIMEHeader{"Content-Type": {wire.MediaJSON}, "Content-Disposition": {"inline; category=metadata"}}, metaJSON},
		{textproto.MIMEHeader{"Content-Type": {contentType}, "Content-Disposition": {"inline"}}, content},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(p.header)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Remove deletes documents.
func (s *DocumentsService) Remove(ctx context.Context, opts RemoveOptions) (*ResultProvider[DocumentDescriptor], error) {
	const name = "remove documents"
	if len(opts.URIs) == 0 {
		return nil, &InvalidOptionError{Operation: name, Option: "uris", Value: "[]"}
	}
	q := &wire.Query{}
	descs := make([]DocumentDescriptor, 0, len(opts.URIs))
	for _, uri := range opts.URIs {
		if uri == "" {
			return nil, &InvalidOptionError{Operation: name, Option: "uri", Value: ""}
		}
		q.Add("uri", uri)
		descs = append(descs, DocumentDescriptor{URI: uri})
	}
	if opts.TemporalCollection != "" {
		q.Add("temporal-collection", opts.TemporalCollection)
	}

	op := s.client.newOperation(name, http.MethodDelete, q.Path("/v1/documents"))
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusNoContent}

	src := s.client.requester.StartRequest(ctx, op)
	return pipeProvider(ctx, src, func(Item) ([]DocumentDescriptor, error) { return nil, nil },
		func() ([]DocumentDescriptor, error) { return descs, nil }), nil
}
