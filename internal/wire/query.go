// Package wire holds the request-side encoding primitives shared by every
// operation: the query-string builder, component escaping and the multipart
// boundary token.
package wire

import "strings"

// Boundary is the multipart boundary sent in Accept and Content-Type headers.
// The same token is used to split responses that omit their own boundary.
const Boundary = "DBREST_BOUNDARY_7f3a91c2"

// Media types used on the wire.
const (
	MediaJSON      = "application/json"
	MediaJSONSeq   = "application/json-seq"
	MediaXML       = "application/xml"
	MediaCSV       = "text/csv"
	MediaMultipart = "multipart/mixed"
)

// MultipartMixed returns the multipart media type carrying Boundary.
func MultipartMixed() string {
	return MediaMultipart + "; boundary=" + Boundary
}

// Param is a single query-string parameter in its serialized form.
type Param struct {
	Key   string
	Value string
}

// Query is an ordered list of query parameters. It is serialized exactly
// once by Encode, so the separator between parameters never depends on
// which component appended first.
type Query struct {
	params []Param
}

// Add appends a parameter, escaping both key and value.
func (q *Query) Add(key, value string) *Query {
	q.params = append(q.params, Param{Key: EscapeComponent(key), Value: EscapeComponent(value)})
	return q
}

// AddRaw appends a parameter whose key and value are already wire-safe.
func (q *Query) AddRaw(key, value string) *Query {
	q.params = append(q.params, Param{Key: key, Value: value})
	return q
}

// Append adds already serialized parameters.
func (q *Query) Append(params ...Param) *Query {
	q.params = append(q.params, params...)
	return q
}

// Len reports the number of parameters.
func (q *Query) Len() int {
	return len(q.params)
}

// Params returns a copy of the parameters in order.
func (q *Query) Params() []Param {
	out := make([]Param, len(q.params))
	copy(out, q.params)
	return out
}

// Encode renders the parameters as "?k=v&k=v", or "" when there are none.
func (q *Query) Encode() string {
	if len(q.params) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q.params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Path joins an endpoint with the encoded query.
func (q *Query) Path(endpoint string) string {
	return endpoint + q.Encode()
}
