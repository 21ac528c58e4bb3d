package tools

import (
	"bytes"
	"encoding/json"
)

// FunctionTool is a definition rendered in the function-calling shape
// accepted by OpenAI-compatible chat APIs.
type FunctionTool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the "function" member of a [FunctionTool].
type FunctionSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  ObjectSchema `json:"parameters"`
}

// ObjectSchema is the JSON-schema object describing a tool's arguments.
type ObjectSchema struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

// Property is a single JSON-schema property.
type Property struct {
	Name        string   `json:"-"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Properties marshals as a JSON object whose keys keep declaration order.
type Properties []Property

// MarshalJSON implements json.Marshaler.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(prop)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Schema renders the definition in function-calling form. Properties
// follow parameter declaration order, required lists exactly the
// required parameters (never null), and enumerations pass through.
func (d Definition) Schema() FunctionTool {
	props := make(Properties, 0, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		props = append(props, Property{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Enum:        p.Enum,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return FunctionTool{
		Type: "function",
		Function: FunctionSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters: ObjectSchema{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		},
	}
}

// Schemas renders a list of definitions.
func Schemas(defs []Definition) []FunctionTool {
	out := make([]FunctionTool, len(defs))
	for i, d := range defs {
		out[i] = d.Schema()
	}
	return out
}
