// File: internal/resource/builder.go
package resource

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/catalog"
)

// fileURIPrefix forces a value to be treated as a file regardless of the
// declared parameter type.
const fileURIPrefix = "file://"

// Request is the fully prepared call for one resource operation: the URL
// with variables substituted, the query parameters, and either a JSON
// body or a multipart upload set. When Uploads is non-empty the session
// sends everything as one multipart form, since JSON and multipart
// cannot be mixed.
type Request struct {
	URL     string
	Method  string
	Query   url.Values
	Body    map[string]any
	Uploads []api.Upload
}

// FetchOptions converts the request into session fetch options.
func (r *Request) FetchOptions(traceLevel int) api.FetchOptions {
	return api.FetchOptions{
		Method:     r.Method,
		Query:      r.Query,
		JSONBody:   r.Body,
		Uploads:    r.Uploads,
		TraceLevel: traceLevel,
	}
}

// Build converts a resource descriptor plus a name-to-value bag into a
// ready-to-send request. Values are looked up under the parameter name
// with hyphens mapped to underscores; absent or nil values are omitted
// entirely. Path variables are substituted last, by exact {name} token
// replacement.
func Build(d *catalog.Descriptor, values map[string]any) (*Request, error) {
	req := &Request{
		URL:    d.URL,
		Method: d.Method,
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	for _, p := range d.Parameters {
		value, ok := lookup(values, p.Name)
		if !ok {
			continue
		}
		encoded, _, err := encodeValue(d, p, value, false)
		if err != nil {
			return nil, err
		}
		if req.Query == nil {
			req.Query = url.Values{}
		}
		req.Query.Set(p.Name, encoded)
	}

	for _, f := range d.RequestFields {
		value, ok := lookup(values, f.Name)
		if !ok {
			continue
		}

		ft := f.Type
		if s, isString := value.(string); isString && strings.HasPrefix(s, fileURIPrefix) {
			ft = catalog.TypeFile
			value = s[len(fileURIPrefix):]
		}

		if ft == catalog.TypeFile {
			upload, err := loadUpload(f.Name, value)
			if err != nil {
				return nil, err
			}
			req.Uploads = append(req.Uploads, upload)
			continue
		}

		if req.Body == nil {
			req.Body = make(map[string]any)
		}
		if ft == catalog.TypeDictionary {
			// Structured values pass through unmodified for JSON
			// encoding.
			req.Body[f.Name] = value
			continue
		}
		encoded, _, err := encodeValue(d, f, value, true)
		if err != nil {
			return nil, err
		}
		req.Body[f.Name] = encoded
	}

	for _, v := range d.Variables {
		value, ok := lookup(values, v.Name)
		if !ok {
			return nil, api.NewError(api.KindFormat, "missing value for URL variable").WithArg(v.Name)
		}
		req.URL = strings.ReplaceAll(req.URL, "{"+v.Name+"}", fmt.Sprint(value))
	}

	return req, nil
}

// lookup resolves a schema name against the value bag, mapping hyphens
// to underscores. A nil value counts as absent.
func lookup(values map[string]any, name string) (any, bool) {
	value, ok := values[strings.ReplaceAll(name, "-", "_")]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// encodeValue stringifies one parameter or field value per its declared
// type. body reports whether a multipart/JSON body channel exists; query
// parameters have none, so file values are inlined as UTF-8 text and
// dictionaries are JSON-encoded.
func encodeValue(d *catalog.Descriptor, f catalog.FieldSpec, value any, body bool) (string, catalog.FieldType, error) {
	ft := f.Type
	if s, ok := value.(string); ok && strings.HasPrefix(s, fileURIPrefix) {
		ft = catalog.TypeFile
		value = s[len(fileURIPrefix):]
	}

	switch ft {
	case catalog.TypeFlag:
		if boolStyle(d, ft) == catalog.BoolStyleWord {
			return fmt.Sprintf("%t", isTruthy(value)), ft, nil
		}
		if isTruthy(value) {
			return "1", ft, nil
		}
		return "0", ft, nil

	case catalog.TypeBool:
		// The server validates and evaluates the value itself; the
		// client only normalizes the spelling.
		if boolStyle(d, ft) == catalog.BoolStyleNumeric {
			if isTruthy(value) {
				return "1", ft, nil
			}
			return "0", ft, nil
		}
		return strings.ToLower(fmt.Sprint(value)), ft, nil

	case catalog.TypeFile:
		content, err := fileContent(value)
		if err != nil {
			return "", ft, err
		}
		if !utf8.Valid(content) {
			return "", ft, api.NewError(api.KindFormat,
				fmt.Sprintf("the file contains non-UTF8 characters, which the parameter '%s' does not support", f.Name))
		}
		return string(content), ft, nil

	case catalog.TypeDictionary:
		encoded, err := json.MarshalToString(value)
		if err != nil {
			return "", ft, api.NewError(api.KindFormat, "cannot encode dictionary value").WithArg(f.Name).WithCause(err)
		}
		return encoded, ft, nil

	default:
		return fmt.Sprint(value), ft, nil
	}
}

// boolStyle resolves the descriptor's flag/bool encoding. The legacy
// split is numeric for flags and lower-cased words for bools; a
// descriptor can override both via its bool-style setting.
func boolStyle(d *catalog.Descriptor, ft catalog.FieldType) string {
	if d.BoolStyle != "" {
		return d.BoolStyle
	}
	if ft == catalog.TypeFlag {
		return catalog.BoolStyleNumeric
	}
	return catalog.BoolStyleWord
}

func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "0" && !strings.EqualFold(v, "false")
	case int:
		return v != 0
	case float64:
		return v != 0
	case nil:
		return false
	}
	return true
}

// loadUpload reads a file-typed value for multipart upload. A string
// value names a filesystem path; a byte slice is literal content.
func loadUpload(field string, value any) (api.Upload, error) {
	switch v := value.(type) {
	case []byte:
		return api.Upload{Field: field, Filename: field, Content: v}, nil
	case string:
		content, err := os.ReadFile(v)
		if err != nil {
			return api.Upload{}, api.NewError(api.KindLocalIO,
				fmt.Sprintf("cannot open file %s", v)).WithCause(err)
		}
		return api.Upload{Field: field, Filename: v, Content: content}, nil
	default:
		return api.Upload{}, api.NewError(api.KindFormat,
			fmt.Sprintf("value for file parameter '%s' must be a path or literal content", field))
	}
}

// fileContent reads a file-typed value destined for inline transport.
func fileContent(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		content, err := os.ReadFile(v)
		if err != nil {
			return nil, api.NewError(api.KindLocalIO,
				fmt.Sprintf("cannot open file %s", v)).WithCause(err)
		}
		return content, nil
	default:
		return nil, api.NewError(api.KindFormat, "file value must be a path or literal content")
	}
}
