// File: internal/api/contenttype_test.go
package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentType(t *testing.T) {
	testCases := []struct {
		name    string
		header  string
		wantErr bool
		check   func(t *testing.T, ct ContentType)
	}{
		{
			name:   "Full protocol header",
			header: "application/json; schema=object; version=1; cache=abc123",
			check: func(t *testing.T, ct ContentType) {
				assert.Equal(t, "application", ct.Type)
				assert.Equal(t, "json", ct.Subtype)
				assert.Equal(t, "object", ct.Schema())
				assert.Equal(t, "1", ct.Version())
				assert.Equal(t, "abc123", ct.Cache())
				assert.True(t, ct.IsJSON())
			},
		},
		{
			name:   "Case folding on type and parameter keys",
			header: "Application/JSON; Schema=collection",
			check: func(t *testing.T, ct ContentType) {
				assert.True(t, ct.IsJSON())
				assert.Equal(t, "collection", ct.Schema())
			},
		},
		{
			name:   "No parameters",
			header: "text/html",
			check: func(t *testing.T, ct ContentType) {
				assert.False(t, ct.IsJSON())
				assert.Empty(t, ct.Schema())
			},
		},
		{
			name:    "Empty header",
			header:  "",
			wantErr: true,
		},
		{
			name:    "Missing subtype",
			header:  "application",
			wantErr: true,
		},
		{
			name:    "Malformed parameter",
			header:  "application/json; schema",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := ParseContentType(tc.header)
			if tc.wantErr {
				require.Error(t, err)
				var apiErr *Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, KindFormat, apiErr.Kind)
				return
			}
			require.NoError(t, err)
			tc.check(t, ct)
		})
	}
}
