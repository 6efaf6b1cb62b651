package llm

// ParamType is the JSON-schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param is one declared tool parameter. Parameter schemas are declared
// statically at registration time, never derived by reflection.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	Enum        []string
}

// Tool describes a callable the model may request. Name must be unique
// within a registry; Description is what the model uses to pick a tool.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the parameter list as a JSON-schema object in the shape
// every provider's tool-use API expects.
func (t Tool) Schema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		detail := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			detail["enum"] = p.Enum
		}
		props[p.Name] = detail
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Param returns the declared parameter with the given name.
func (t Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
