package gemini

import (
	"fmt"
	"strings"
)

// droppedSchemaFields are JSON-Schema features the generateContent API
// rejects outright.
var droppedSchemaFields = map[string]bool{
	"additionalProperties": true,
	"exclusiveMinimum":     true,
	"exclusiveMaximum":     true,
	"minLength":            true,
	"maxLength":            true,
	"pattern":              true,
	"$schema":              true,
}

func isDroppedSchemaField(key string) bool {
	if droppedSchemaFields[key] {
		return true
	}
	return strings.HasPrefix(key, "dependencies") || strings.HasPrefix(key, "unevaluated")
}

// SanitizeSchema rewrites a tool parameter schema into the subset Gemini
// accepts. Defaults fold into the description and required entries without a
// matching property are dropped. Sanitizing an already-sanitized schema is a
// no-op.
func SanitizeSchema(schema any) any {
	node, ok := schema.(map[string]any)
	if !ok {
		return schema
	}
	cleaned := make(map[string]any, len(node))
	for key, value := range node {
		if isDroppedSchemaField(key) {
			continue
		}
		cleaned[key] = value
	}

	if def, ok := cleaned["default"]; ok {
		delete(cleaned, "default")
		// The newline stays even when the description is empty.
		description, _ := cleaned["description"].(string)
		cleaned["description"] = description + "\n" + fmt.Sprintf("Default: %v", def)
	}

	properties, _ := cleaned["properties"].(map[string]any)
	if properties != nil {
		sanitized := make(map[string]any, len(properties))
		for name, prop := range properties {
			sanitized[name] = SanitizeSchema(prop)
		}
		cleaned["properties"] = sanitized
	}

	if required, ok := cleaned["required"].([]any); ok {
		var kept []any
		for _, name := range required {
			key, ok := name.(string)
			if !ok {
				continue
			}
			if properties == nil {
				continue
			}
			if _, exists := properties[key]; exists {
				kept = append(kept, key)
			}
		}
		if len(kept) > 0 {
			cleaned["required"] = kept
		} else {
			delete(cleaned, "required")
		}
	} else if required, ok := cleaned["required"].([]string); ok {
		var kept []string
		for _, key := range required {
			if properties == nil {
				continue
			}
			if _, exists := properties[key]; exists {
				kept = append(kept, key)
			}
		}
		if len(kept) > 0 {
			cleaned["required"] = kept
		} else {
			delete(cleaned, "required")
		}
	}

	if items, ok := cleaned["items"]; ok {
		cleaned["items"] = SanitizeSchema(items)
	}
	return cleaned
}
