package messenger

import (
	"fmt"
	"sort"
	"sync"
)

// TypeSchema describes the validation contract for one message type.
// RequiredFields is schema-lite: presence is checked, field types are
// the sender's problem.
type TypeSchema struct {
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	RequiredFields []string `json:"required_fields,omitempty"`
}

// Built-in message types every deployment understands
var builtinSchemas = []TypeSchema{
	{
		Type:           "TASK_ASSIGNMENT",
		Description:    "Assign a compliance task to an agent",
		RequiredFields: []string{"task_description", "priority"},
	},
	{
		Type:           "DATA_REQUEST",
		Description:    "Request data from another agent",
		RequiredFields: []string{"data_type", "query_parameters"},
	},
	{
		Type:           "STATUS_UPDATE",
		Description:    "Report task or agent status",
		RequiredFields: []string{"status"},
	},
	{
		Type:        "ANNOUNCE",
		Description: "Free-form announcement, typically broadcast",
	},
}

// TypeRegistry validates message content against per-type schemas.
// Safe for concurrent use.
type TypeRegistry struct {
	mu      sync.RWMutex
	schemas map[string]TypeSchema
}

// NewTypeRegistry returns a registry seeded with the built-in types
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{schemas: make(map[string]TypeSchema, len(builtinSchemas))}
	for _, s := range builtinSchemas {
		r.schemas[s.Type] = s
	}
	return r
}

// Register adds or replaces a custom message type
func (r *TypeRegistry) Register(schema TypeSchema) error {
	if schema.Type == "" {
		return fmt.Errorf("%w: message type name is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Type] = schema
	return nil
}

// Known reports whether the type is registered
func (r *TypeRegistry) Known(messageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[messageType]
	return ok
}

// Schema returns the schema for a registered type
func (r *TypeRegistry) Schema(messageType string) (TypeSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[messageType]
	if !ok {
		return TypeSchema{}, fmt.Errorf("%w: unknown message type %q", ErrValidation, messageType)
	}
	return schema, nil
}

// Validate checks content against the type's required fields
func (r *TypeRegistry) Validate(messageType string, content map[string]interface{}) error {
	schema, err := r.Schema(messageType)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("%w: content must be a structured object", ErrValidation)
	}

	for _, field := range schema.RequiredFields {
		if _, ok := content[field]; !ok {
			return fmt.Errorf("%w: message type %s requires field %q", ErrValidation, messageType, field)
		}
	}
	return nil
}

// Types returns the registered type names, sorted
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
