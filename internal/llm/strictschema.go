package llm

// StrictSchema rewrites a tool parameter schema for models that enforce
// structured outputs. Every object gets additionalProperties:false, and
// any property missing from its object's required list has "null" unioned
// into its type. The required list itself is never touched. The input is
// not modified.
func StrictSchema(schema map[string]any) map[string]any {
	out, _ := strictNode(schema, false).(map[string]any)
	return out
}

func strictNode(node any, nullable bool) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return node
	}
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}

	if isObjectSchema(out) {
		out["additionalProperties"] = false
		required := map[string]bool{}
		if reqList, ok := out["required"].([]any); ok {
			for _, r := range reqList {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		if props, ok := out["properties"].(map[string]any); ok {
			newProps := make(map[string]any, len(props))
			for name, prop := range props {
				newProps[name] = strictNode(prop, !required[name])
			}
			out["properties"] = newProps
		}
	}

	if items, ok := out["items"]; ok {
		out["items"] = strictNode(items, false)
	}

	if nullable {
		if typ, ok := out["type"]; ok {
			out["type"] = unionNull(typ)
		}
	}
	return out
}

func isObjectSchema(node map[string]any) bool {
	switch t := node["type"].(type) {
	case string:
		return t == "object"
	case []any:
		for _, v := range t {
			if v == "object" {
				return true
			}
		}
	}
	_, hasProps := node["properties"]
	return hasProps
}

// unionNull adds "null" to a type declaration unless it is already there.
func unionNull(typ any) any {
	switch t := typ.(type) {
	case string:
		if t == "null" {
			return t
		}
		return []any{t, "null"}
	case []any:
		for _, v := range t {
			if v == "null" {
				return t
			}
		}
		return append(append([]any{}, t...), "null")
	default:
		return typ
	}
}
