// Package demux turns response bodies into decoded items. A body is decoded
// by its own media type; multipart bodies are split into parts and every
// part is decoded independently.
package demux

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"github.com/goccy/go-json"
)

// Mode selects how a single body is turned into items.
type Mode int

const (
	// ModeValue yields exactly one item holding the whole decoded body.
	ModeValue Mode = iota
	// ModeRows yields one item per row of a row-set body.
	ModeRows
)

// Part is one decoded unit of a response: the whole body or one multipart part.
type Part struct {
	ContentType string
	Header      textproto.MIMEHeader
	Content     any
}

// EmitFunc receives decoded parts in arrival order. A non-nil error stops decoding.
type EmitFunc func(Part) error

const recordSeparator = 0x1E

type kind int

const (
	kindBinary kind = iota
	kindJSON
	kindJSONSeq
	kindXML
	kindCSV
	kindText
)

// MediaType returns the lower-cased media type of a Content-Type value
// without its parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

func kindOf(mediaType string) kind {
	switch {
	case mediaType == "application/json-seq":
		return kindJSONSeq
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return kindJSON
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return kindXML
	case mediaType == "text/csv":
		return kindCSV
	case strings.HasPrefix(mediaType, "text/"):
		return kindText
	}
	switch mediaType {
	case "application/xquery", "application/javascript", "application/vnd.marklogic-javascript", "application/sparql-query":
		return kindText
	}
	return kindBinary
}

// Decode decodes a complete body as one value according to its content type.
func Decode(body []byte, contentType string) (any, error) {
	switch kindOf(MediaType(contentType)) {
	case kindJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("demux: decode json: %w", err)
		}
		return v, nil
	case kindJSONSeq:
		return decodeJSONSeq(body)
	case kindXML:
		n, err := ParseXML(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("demux: decode xml: %w", err)
		}
		return n, nil
	case kindCSV, kindText:
		return string(body), nil
	}
	return body, nil
}

// DecodeBody buffers r and emits its items. An empty body emits nothing.
func DecodeBody(r io.Reader, header textproto.MIMEHeader, mode Mode, emit EmitFunc) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("demux: read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	contentType := header.Get("Content-Type")
	if mode == ModeValue {
		v, err := Decode(body, contentType)
		if err != nil {
			return err
		}
		return emit(Part{ContentType: contentType, Header: header, Content: v})
	}

	rows, err := decodeRows(body, contentType)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := emit(Part{ContentType: contentType, Header: header, Content: row}); err != nil {
			return err
		}
	}
	return nil
}

func decodeRows(body []byte, contentType string) ([]any, error) {
	switch kindOf(MediaType(contentType)) {
	case kindJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("demux: decode json: %w", err)
		}
		switch t := v.(type) {
		case []any:
			return t, nil
		case map[string]any:
			if rows, ok := t["rows"].([]any); ok {
				return rows, nil
			}
		}
		return []any{v}, nil
	case kindJSONSeq:
		return decodeJSONSeq(body)
	case kindCSV:
		r := csv.NewReader(bytes.NewReader(body))
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("demux: decode csv: %w", err)
		}
		rows := make([]any, len(records))
		for i, rec := range records {
			rows[i] = rec
		}
		return rows, nil
	}
	v, err := Decode(body, contentType)
	if err != nil {
		return nil, err
	}
	return []any{v}, nil
}

// decodeJSONSeq parses an RFC 7464 JSON text sequence.
func decodeJSONSeq(body []byte) ([]any, error) {
	var out []any
	for _, rec := range bytes.Split(body, []byte{recordSeparator}) {
		rec = bytes.TrimSpace(rec)
		if len(rec) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("demux: decode json-seq record %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	return out, nil
}
