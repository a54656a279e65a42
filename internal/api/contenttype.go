// File: internal/api/contenttype.go
package api

import "strings"

// ContentType is a parsed Content-Type header: main type, subtype, and the
// parameter map. The appliance API requires three parameters on every
// successful response: schema, version, and cache.
type ContentType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// Schema returns the schema tag parameter, or "" if absent.
func (ct ContentType) Schema() string { return ct.Params["schema"] }

// Version returns the version parameter, or "" if absent.
func (ct ContentType) Version() string { return ct.Params["version"] }

// Cache returns the cache token parameter, or "" if absent.
func (ct ContentType) Cache() string { return ct.Params["cache"] }

// IsJSON reports whether the content type is application/json.
func (ct ContentType) IsJSON() bool {
	return ct.Type == "application" && ct.Subtype == "json"
}

// ParseContentType splits a Content-Type header value into type, subtype
// and parameters. Type, subtype and parameter keys are lower-cased;
// parameter values keep their case. An empty or malformed header returns
// a format error.
func ParseContentType(header string) (ContentType, error) {
	if header == "" {
		return ContentType{}, NewError(KindFormat, "response without Content-Type header")
	}

	parts := strings.Split(header, ";")

	mediaType := strings.SplitN(parts[0], "/", 2)
	if len(mediaType) != 2 {
		return ContentType{}, NewError(KindFormat, "cannot parse Content-Type").WithArg(header)
	}

	ct := ContentType{
		Type:    strings.ToLower(strings.TrimSpace(mediaType[0])),
		Subtype: strings.ToLower(strings.TrimSpace(mediaType[1])),
		Params:  make(map[string]string),
	}
	if ct.Type == "" || ct.Subtype == "" {
		return ContentType{}, NewError(KindFormat, "cannot parse Content-Type").WithArg(header)
	}

	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return ContentType{}, NewError(KindFormat, "cannot parse Content-Type").WithArg(header)
		}
		ct.Params[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	return ct, nil
}
