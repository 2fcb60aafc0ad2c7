package demux

import (
	"strings"
)

// ErrorBody decodes a server error body. It returns the parsed body (JSON
// value or *Node) when it decodes, the raw text otherwise, together with the
// most specific message found in it.
func ErrorBody(body []byte, contentType string) (any, string) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, ""
	}

	k := kindOf(MediaType(contentType))
	if k != kindJSON && k != kindXML {
		switch text[0] {
		case '{', '[':
			k = kindJSON
		case '<':
			k = kindXML
		}
	}

	switch k {
	case kindJSON:
		v, err := Decode(body, "application/json")
		if err != nil {
			return text, text
		}
		return v, jsonMessage(v, text)
	case kindXML:
		v, err := Decode(body, "application/xml")
		if err != nil {
			return text, text
		}
		n := v.(*Node)
		if m := n.Find("message"); m != nil && m.Text != "" {
			return n, m.Text
		}
		return n, text
	}
	return text, text
}

func jsonMessage(v any, fallback string) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return fallback
	}
	if inner, ok := obj["errorResponse"].(map[string]any); ok {
		obj = inner
	}
	if msg, ok := obj["message"].(string); ok && msg != "" {
		return msg
	}
	return fallback
}
