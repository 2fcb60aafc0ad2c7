package dbrest

import (
	"net/http"
	"slices"
)

// BodyShape describes a request or response body.
type BodyShape string

const (
	ShapeEmpty     BodyShape = "empty"
	ShapeSingle    BodyShape = "single"
	ShapeMultipart BodyShape = "multipart"
)

// RequestOptions are the HTTP-level parts of an operation. Path includes the
// encoded query string. Connection is a private copy of the client's
// connection parameters.
type RequestOptions struct {
	Method     string
	Path       string
	Header     http.Header
	Connection ConnectionParams
}

// Operation describes one request/response cycle handed to a Requester.
// It is built per call and consumed once.
type Operation struct {
	Name          string
	Request       RequestOptions
	OutboundShape BodyShape
	InboundShape  BodyShape
	// ValidStatusCodes are the statuses that are not errors.
	ValidStatusCodes []int
	// EmptyStatusCodes resolve with no items. Must be a subset of ValidStatusCodes.
	EmptyStatusCodes []int
	Consume          Consume
	Body             []byte
}

func (c *Client) newOperation(name, method, path string) *Operation {
	return &Operation{
		Name: name,
		Request: RequestOptions{
			Method:     method,
			Path:       path,
			Header:     make(http.Header),
			Connection: c.params.Clone(),
		},
		OutboundShape:    ShapeEmpty,
		InboundShape:     ShapeSingle,
		ValidStatusCodes: []int{http.StatusOK},
		Consume:          ConsumeValue,
	}
}

// IsValidStatus reports whether code is not an error for this operation.
func (op *Operation) IsValidStatus(code int) bool {
	return slices.Contains(op.ValidStatusCodes, code)
}

// IsEmptyStatus reports whether code means "no result".
func (op *Operation) IsEmptyStatus(code int) bool {
	return slices.Contains(op.EmptyStatusCodes, code)
}
