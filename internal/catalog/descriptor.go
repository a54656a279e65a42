// File: internal/catalog/descriptor.go
package catalog

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of parameter/field types the appliance API
// declares. Keeping it a closed enumeration means the request builder and
// the response renderer can match exhaustively instead of dispatching on
// strings.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInteger
	TypeFloat
	TypeBool
	TypeFlag
	TypeFile
	TypeDictionary
	// TypeTime only appears on response fields; values are epoch numbers
	// rendered as human-readable timestamps.
	TypeTime
)

var fieldTypeNames = map[FieldType]string{
	TypeString:     "string",
	TypeInteger:    "integer",
	TypeFloat:      "float",
	TypeBool:       "bool",
	TypeFlag:       "flag",
	TypeFile:       "file",
	TypeDictionary: "dictionary",
	TypeTime:       "time",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// MarshalJSON writes the wire name so persisted catalogs round-trip.
func (t FieldType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the wire names. Unknown type names decay to
// string, matching how the server treats undeclared types.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	for ft, n := range fieldTypeNames {
		if n == name {
			*t = ft
			return nil
		}
	}
	*t = TypeString
	return nil
}

// FieldSpec describes one declared parameter, request field, or response
// field. Names are unique within their field list.
type FieldSpec struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
	MetaVar     string    `json:"metavar,omitempty"`
	// Display false hides the field from rendered output.
	Display *bool `json:"display,omitempty"`
}

// Displayed reports whether the field shows up in rendered output;
// absence of the flag means visible.
func (f FieldSpec) Displayed() bool {
	return f.Display == nil || *f.Display
}

// ResponseSpec maps one HTTP status to the human message for it.
type ResponseSpec struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

// Bool encoding styles for flag/bool parameter values. Different
// descriptor generations disagree on the convention, so it is declared
// per descriptor rather than guessed globally.
const (
	// BoolStyleNumeric encodes true/false as "1"/"0".
	BoolStyleNumeric = "numeric"
	// BoolStyleWord encodes as lower-cased "true"/"false".
	BoolStyleWord = "word"
)

// Descriptor is the server-declared schema for one operation: where and
// how to call it, what it accepts, and what comes back. Descriptors are
// immutable once loaded.
type Descriptor struct {
	// URL is the resource URL, possibly containing {name} variable
	// templates.
	URL    string `json:"resource"`
	Method string `json:"method,omitempty"`
	// Summary and Description document the operation.
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`

	// Variables are substituted into the URL template.
	Variables []FieldSpec `json:"variables,omitempty"`
	// Parameters travel in the query string.
	Parameters []FieldSpec `json:"parameters,omitempty"`
	// RequestFields travel in the JSON body, or as multipart form fields
	// when a file upload is involved.
	RequestFields []FieldSpec `json:"request-fields,omitempty"`
	// ResponseFields drive response rendering.
	ResponseFields []FieldSpec `json:"response-fields,omitempty"`
	// Responses map status codes to human messages.
	Responses []ResponseSpec `json:"responses,omitempty"`

	// Schema is the response schema tag the operation is expected to
	// produce.
	Schema string `json:"schema,omitempty"`
	// RequiresConfirmation marks operations that answer with a
	// confirmation exchange before doing anything.
	RequiresConfirmation bool `json:"requires-confirmation,omitempty"`
	// BoolStyle selects the flag/bool value encoding for this
	// descriptor: BoolStyleNumeric or BoolStyleWord. Empty selects the
	// legacy split: numeric for flags, word for bools.
	BoolStyle string `json:"bool-style,omitempty"`
}

// ResponseMessage returns the descriptor's message for a status code,
// falling back to a small set of well-known phrases, then to def.
func (d *Descriptor) ResponseMessage(status int, def string) string {
	for _, r := range d.Responses {
		if r.Status == status {
			return r.Description
		}
	}
	switch status {
	case 401:
		return "Not authorized."
	case 403:
		return "Not allowed."
	case 404:
		return "Not found."
	case 405:
		return "Method not supported."
	}
	return def
}

// ResponseFieldsByName indexes the response fields for rendering.
func (d *Descriptor) ResponseFieldsByName() map[string]FieldSpec {
	byName := make(map[string]FieldSpec, len(d.ResponseFields))
	for _, f := range d.ResponseFields {
		byName[f.Name] = f
	}
	return byName
}

// HiddenResponseFields returns the names of response fields flagged
// non-displayable.
func (d *Descriptor) HiddenResponseFields() map[string]bool {
	hidden := make(map[string]bool)
	for _, f := range d.ResponseFields {
		if !f.Displayed() {
			hidden[f.Name] = true
		}
	}
	return hidden
}
