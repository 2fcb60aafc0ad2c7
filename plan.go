package dbrest

import (
	"github.com/goccy/go-json"
)

// Plan is a server-executable query description built elsewhere. The client
// only serializes it.
type Plan interface {
	Serialize() ([]byte, error)
}

// RawPlan is an already serialized JSON plan.
type RawPlan string

func (p RawPlan) Serialize() ([]byte, error) {
	return []byte(p), nil
}

// JSONPlan marshals Value as the plan document.
type JSONPlan struct {
	Value any
}

func (p JSONPlan) Serialize() ([]byte, error) {
	return json.Marshal(p.Value)
}
