package demux

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"github.com/ambiyansyah-risyal/dbrest/internal/wire"
)

// Boundary returns the boundary parameter of a multipart Content-Type,
// or the shared wire boundary when the header carries none.
func Boundary(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err == nil && params["boundary"] != "" {
		return params["boundary"]
	}
	return wire.Boundary
}

// DecodeMultipart splits r on its boundary and emits one item per part,
// each decoded by the part's own Content-Type, until the closing boundary.
func DecodeMultipart(r io.Reader, contentType string, emit EmitFunc) error {
	mr := multipart.NewReader(r, Boundary(contentType))
	for i := 0; ; i++ {
		p, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("demux: multipart part %d: %w", i, err)
		}

		body, err := io.ReadAll(p)
		_ = p.Close()
		if err != nil {
			return fmt.Errorf("demux: multipart part %d: %w", i, err)
		}

		partType := p.Header.Get("Content-Type")
		var content any
		if len(body) > 0 {
			content, err = Decode(body, partType)
			if err != nil {
				return fmt.Errorf("demux: multipart part %d: %w", i, err)
			}
		}
		if err := emit(Part{ContentType: partType, Header: p.Header, Content: content}); err != nil {
			return err
		}
	}
}

// DispositionParams returns the parameters of a part's Content-Disposition
// header (filename, category, format, ...). The disposition type is stored
// under the empty key.
func DispositionParams(p Part) map[string]string {
	raw := p.Header.Get("Content-Disposition")
	if raw == "" {
		return map[string]string{}
	}
	disp, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return map[string]string{}
	}
	params[""] = disp
	return params
}
