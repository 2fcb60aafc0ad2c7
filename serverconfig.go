package dbrest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ambiyansyah-risyal/dbrest/internal/wire"
)

// ConfigService groups server-side configuration resources.
type ConfigService struct {
	client *Client
}

// Config returns the configuration service.
func (c *Client) Config() *ConfigService {
	return &ConfigService{client: c}
}

// ExtLibs manages extension libraries stored on the server.
func (s *ConfigService) ExtLibs() *ExtLibsService {
	return &ExtLibsService{client: s.client}
}

// Transforms manages server-side transforms.
func (s *ConfigService) Transforms() *TransformsService {
	return &TransformsService{client: s.client}
}

// ExtLibsService reads and writes modules under /v1/ext.
type ExtLibsService struct {
	client *Client
}

func extPath(operation, path string) (string, error) {
	if path == "" || path == "/" {
		return "", &InvalidOptionError{Operation: operation, Option: "path", Value: path}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "/v1/ext" + path, nil
}

// Write installs the library at path, for example
// "/marklogic/query/custom/directoryConstraint.xqy".
func (s *ExtLibsService) Write(ctx context.Context, path, contentType string, source io.Reader) (*ResultProvider[Item], error) {
	const name = "write extension library"
	endpoint, err := extPath(name, path)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		return nil, &InvalidOptionError{Operation: name, Option: "contentType", Value: ""}
	}
	body, err := readSource(name, source)
	if err != nil {
		return nil, err
	}

	op := s.client.newOperation(name, http.MethodPut, endpoint)
	op.Request.Header.Set("Content-Type", contentType)
	op.OutboundShape = ShapeSingle
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusCreated, http.StatusNoContent}
	op.Body = body
	return s.client.requester.StartRequest(ctx, op), nil
}

// Read returns the library source as one item.
func (s *ExtLibsService) Read(ctx context.Context, path string) (*ResultProvider[Item], error) {
	const name = "read extension library"
	endpoint, err := extPath(name, path)
	if err != nil {
		return nil, err
	}
	op := s.client.newOperation(name, http.MethodGet, endpoint)
	return s.client.requester.StartRequest(ctx, op), nil
}

// List returns the installed libraries as one JSON item with an "assets"
// array. An empty directory lists everything.
func (s *ExtLibsService) List(ctx context.Context, directory string) (*ResultProvider[Item], error) {
	endpoint := "/v1/ext"
	if directory != "" && directory != "/" {
		var err error
		if endpoint, err = extPath("list extension libraries", directory); err != nil {
			return nil, err
		}
	}
	op := s.client.newOperation("list extension libraries", http.MethodGet, endpoint)
	op.Request.Header.Set("Accept", wire.MediaJSON)
	return s.client.requester.StartRequest(ctx, op), nil
}

// Remove deletes the library at path.
func (s *ExtLibsService) Remove(ctx context.Context, path string) (*ResultProvider[Item], error) {
	const name = "remove extension library"
	endpoint, err := extPath(name, path)
	if err != nil {
		return nil, err
	}
	op := s.client.newOperation(name, http.MethodDelete, endpoint)
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusNoContent}
	return s.client.requester.StartRequest(ctx, op), nil
}

// SourceFormat is the language of a transform.
type SourceFormat string

const (
	SourceXQuery     SourceFormat = "xquery"
	SourceJavaScript SourceFormat = "javascript"
	SourceXSLT       SourceFormat = "xslt"
)

var sourceFormats = []SourceFormat{SourceXQuery, SourceJavaScript, SourceXSLT}

func (f SourceFormat) contentType() string {
	switch f {
	case SourceJavaScript:
		return "application/vnd.marklogic-javascript"
	case SourceXSLT:
		return "application/xslt+xml"
	}
	return "application/xquery"
}

// TransformSource is a transform to install. Title, Description, Provider
// and Version are optional.
type TransformSource struct {
	Name        string
	Format      SourceFormat
	Source      io.Reader
	Title       string
	Description string
	Provider    string
	Version     string
}

// TransformsService manages /v1/config/transforms.
type TransformsService struct {
	client *Client
}

func transformPath(operation, name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", &InvalidOptionError{Operation: operation, Option: "name", Value: name}
	}
	return "/v1/config/transforms/" + wire.EscapeComponent(name), nil
}

// Write installs or replaces a transform.
func (s *TransformsService) Write(ctx context.Context, t TransformSource) (*ResultProvider[Item], error) {
	const name = "write transform"
	endpoint, err := transformPath(name, t.Name)
	if err != nil {
		return nil, err
	}
	format, err := checkEnum(name, "format", t.Format, "", sourceFormats)
	if err != nil {
		return nil, err
	}
	if format == "" {
		return nil, &InvalidOptionError{Operation: name, Option: "format", Value: ""}
	}
	body, err := readSource(name, t.Source)
	if err != nil {
		return nil, err
	}

	q := &wire.Query{}
	for _, p := range []struct{ key, value string }{
		{"title", t.Title},
		{"description", t.Description},
		{"provider", t.Provider},
		{"version", t.Version},
	} {
		if p.value != "" {
			q.Add(p.key, p.value)
		}
	}

	op := s.client.newOperation(name, http.MethodPut, q.Path(endpoint))
	op.Request.Header.Set("Content-Type", format.contentType())
	op.OutboundShape = ShapeSingle
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusCreated, http.StatusNoContent}
	op.Body = body
	return s.client.requester.StartRequest(ctx, op), nil
}

// Read returns the transform source as one item.
func (s *TransformsService) Read(ctx context.Context, name string) (*ResultProvider[Item], error) {
	endpoint, err := transformPath("read transform", name)
	if err != nil {
		return nil, err
	}
	op := s.client.newOperation("read transform", http.MethodGet, endpoint)
	return s.client.requester.StartRequest(ctx, op), nil
}

// List returns the installed transforms as one JSON item.
func (s *TransformsService) List(ctx context.Context) (*ResultProvider[Item], error) {
	q := (&wire.Query{}).AddRaw("format", "json")
	op := s.client.newOperation("list transforms", http.MethodGet, q.Path("/v1/config/transforms"))
	op.Request.Header.Set("Accept", wire.MediaJSON)
	return s.client.requester.StartRequest(ctx, op), nil
}

// Remove deletes a transform.
func (s *TransformsService) Remove(ctx context.Context, name string) (*ResultProvider[Item], error) {
	endpoint, err := transformPath("remove transform", name)
	if err != nil {
		return nil, err
	}
	op := s.client.newOperation("remove transform", http.MethodDelete, endpoint)
	op.InboundShape = ShapeEmpty
	op.ValidStatusCodes = []int{http.StatusNoContent}
	return s.client.requester.StartRequest(ctx, op), nil
}

func readSource(operation string, r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, &InvalidOptionError{Operation: operation, Option: "source", Value: "<nil>"}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dbrest: %s: read source: %w", operation, err)
	}
	return body, nil
}
