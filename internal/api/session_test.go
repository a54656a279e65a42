// File: internal/api/session_test.go
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrompter returns canned answers without a terminal.
type fakePrompter struct {
	answer string
	asked  []string
}

func (p *fakePrompter) Prompt(label string) (string, error) {
	p.asked = append(p.asked, label)
	return p.answer, nil
}

func (p *fakePrompter) PromptSecret(label string) (string, error) {
	p.asked = append(p.asked, label)
	return p.answer, nil
}

func newTestSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	// The tests talk plain HTTP to httptest servers; certificate
	// validation never engages.
	sess, err := NewSession(cfg)
	require.NoError(t, err)
	return sess
}

func protocolHeader(schema string) string {
	return "application/json; schema=" + schema + "; version=1; cache=token1"
}

func TestFetchSuccess(t *testing.T) {
	var gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", protocolHeader("object"))
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	sess := newTestSession(t, SessionConfig{})

	env, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "object", env.Schema)
	assert.Equal(t, "1", env.Version)
	assert.Equal(t, "token1", env.Cache)
	assert.Equal(t, "ok", env.BodyMap()["status"])
	assert.Equal(t, "application/json", gotAccept)
	assert.Empty(t, gotAuth)
}

func TestFetchAuthHeaders(t *testing.T) {
	t.Run("Basic auth until a token is held", func(t *testing.T) {
		var user, pass string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, _ = r.BasicAuth()
			w.Header().Set("Content-Type", protocolHeader("object"))
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{
			Credentials: &Credentials{User: "admin", Password: "secret"},
		})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
	})

	t.Run("Bearer token replaces basic auth", func(t *testing.T) {
		var auth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", protocolHeader("object"))
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{
			Credentials: &Credentials{User: "admin", Password: "secret", BearerToken: "tok42"},
		})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok42", auth)
	})
}

func TestFetchStatusErrors(t *testing.T) {
	testCases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
	}

	for _, tc := range testCases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		sess := newTestSession(t, SessionConfig{})
		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, tc.kind, apiErr.Kind)
		assert.Equal(t, tc.status, apiErr.StatusCode)
		server.Close()
	}
}

func TestFetchProtocolViolations(t *testing.T) {
	t.Run("Missing protocol parameters on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{})
		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindFormat, apiErr.Kind)
	})

	t.Run("Missing protocol parameters tolerated on error statuses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"title": "busy"}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{})
		env, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, env.Status)
		assert.Equal(t, "busy", env.BodyMap()["title"])
	})

	t.Run("Non-JSON body on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{})
		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindFormat, apiErr.Kind)
	})

	t.Run("Version newer than supported", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; schema=object; version=99; cache=c")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{})
		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindFormat, apiErr.Kind)
		assert.Contains(t, apiErr.Msg, "update the client")
	})

	t.Run("202 without protocol parameters is fine", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "/results/1")
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{})
		env, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, env.Status)
		assert.Equal(t, "/results/1", env.Location())
	})
}

func TestFetchConnectionFailure(t *testing.T) {
	sess := newTestSession(t, SessionConfig{})

	_, err := sess.Fetch(context.Background(), "http://127.0.0.1:1", FetchOptions{})

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Contains(t, apiErr.Msg, "cannot connect to device")
}

func TestFetchInfoMessageNotice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-INFO-MESSAGE", "maintenance window tonight")
		w.Header().Set("Content-Type", protocolHeader("object"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var notices bytes.Buffer
	sess := newTestSession(t, SessionConfig{Notices: &notices})

	_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Note: maintenance window tonight\n", notices.String())
}

func TestInBandTwoFactorChallenge(t *testing.T) {
	t.Run("Challenge answered with composite credentials", func(t *testing.T) {
		var attempt int
		var compositeUser, compositePass string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempt++
			if attempt == 1 {
				w.Header().Set("WWW-Authenticate", "BasicWith2fa realm=device")
				w.Header().Set("Content-Type", protocolHeader("object"))
				w.Write([]byte(`{}`))
				return
			}
			compositeUser, compositePass, _ = r.BasicAuth()
			w.Header().Set("Authorization", "Bearer session-token-9")
			w.Header().Set("Content-Type", protocolHeader("object"))
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		prompter := &fakePrompter{answer: "123456"}
		creds := &Credentials{User: "admin", Password: "secret"}
		sess := newTestSession(t, SessionConfig{Credentials: creds, Prompter: prompter})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)

		assert.Equal(t, 2, attempt)
		assert.Equal(t, "2fa||admin", compositeUser)
		assert.Equal(t, "123456|secret", compositePass)
		assert.Equal(t, "session-token-9", creds.BearerToken)
	})

	t.Run("SessionID header variant", func(t *testing.T) {
		var attempt int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempt++
			w.Header().Set("Content-Type", protocolHeader("object"))
			if attempt == 1 {
				w.Header().Set("WWW-Authenticate", "BasicWith2fa")
			} else {
				w.Header().Set("Authorization", "SessionID=sid-17")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		creds := &Credentials{User: "ops|admin", Password: "secret"}
		sess := newTestSession(t, SessionConfig{Credentials: creds, Prompter: &fakePrompter{answer: "42"}})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, "sid-17", creds.BearerToken)
		// The spelled-out authenticator type is preserved.
		assert.Equal(t, "2fa|ops|admin", creds.User)
	})

	t.Run("Missing token header is fatal", func(t *testing.T) {
		var attempt int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempt++
			w.Header().Set("Content-Type", protocolHeader("object"))
			if attempt == 1 {
				w.Header().Set("WWW-Authenticate", "BasicWith2fa")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{
			Credentials: &Credentials{User: "admin", Password: "secret"},
			Prompter:    &fakePrompter{answer: "42"},
		})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindAuth, apiErr.Kind)
		assert.Contains(t, apiErr.Msg, "2fa session")
	})

	t.Run("Prompting disabled fails the challenge", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("WWW-Authenticate", "BasicWith2fa")
			w.Header().Set("Content-Type", protocolHeader("object"))
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		sess := newTestSession(t, SessionConfig{
			Credentials: &Credentials{User: "admin", Password: "secret", NoBlock: true},
		})

		_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{})
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindAuth, apiErr.Kind)
	})
}

func TestCheckIdentity(t *testing.T) {
	makeResp := func(cn, uidHeader, uid string) *http.Response {
		resp := &http.Response{Header: http.Header{}}
		if uid != "" {
			resp.Header.Set(uidHeader, uid)
		}
		resp.TLS = &tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{
				{Subject: pkix.Name{CommonName: cn}},
			},
		}
		return resp
	}

	sess := newTestSession(t, SessionConfig{})

	t.Run("Matching identity passes", func(t *testing.T) {
		resp := makeResp("abc123.device.sensorunit.io", headerDeviceUID, "abc123")
		assert.NoError(t, sess.checkIdentity(resp))
	})

	t.Run("Legacy header is honored", func(t *testing.T) {
		resp := makeResp("abc123.api.sensorunit.io", headerDeviceUIDLegacy, "abc123")
		assert.NoError(t, sess.checkIdentity(resp))
	})

	t.Run("Mismatch is an identity error", func(t *testing.T) {
		resp := makeResp("evil.example.com", headerDeviceUID, "abc123")
		err := sess.checkIdentity(resp)
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindIdentity, apiErr.Kind)
	})

	t.Run("No UID header skips the check", func(t *testing.T) {
		resp := makeResp("whatever", headerDeviceUID, "")
		assert.NoError(t, sess.checkIdentity(resp))
	})

	t.Run("Custom CA skips the check", func(t *testing.T) {
		custom, err := NewSession(SessionConfig{TLS: TLSOptions{CACert: "system"}})
		require.NoError(t, err)
		resp := makeResp("evil.example.com", headerDeviceUID, "abc123")
		assert.NoError(t, custom.checkIdentity(resp))
	})
}

func TestEncodeBody(t *testing.T) {
	t.Run("JSON body without uploads", func(t *testing.T) {
		body, contentType, err := encodeBody(FetchOptions{JSONBody: map[string]any{"a": "b"}})
		require.NoError(t, err)
		assert.Equal(t, "application/json", contentType)
		assert.JSONEq(t, `{"a":"b"}`, string(body))
	})

	t.Run("No body at all", func(t *testing.T) {
		body, contentType, err := encodeBody(FetchOptions{})
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Empty(t, contentType)
	})

	t.Run("Uploads fold the fields into a multipart form", func(t *testing.T) {
		body, contentType, err := encodeBody(FetchOptions{
			JSONBody: map[string]any{"note": "hello", "count": float64(3)},
			Uploads:  []Upload{{Field: "archive", Filename: "/tmp/data.bin", Content: []byte{0x1, 0x2}}},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(contentType, "multipart/form-data"))
		assert.Contains(t, string(body), `filename="data.bin"`)
		assert.Contains(t, string(body), "application/octet-stream")
		assert.Contains(t, string(body), `name="note"`)
		assert.Contains(t, string(body), "hello")
	})
}

func TestTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewTracer(TraceOperation, &buf)

	req, err := http.NewRequest(http.MethodPost, "https://device.example/api/x", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	tracer.Request(TraceOperation, req, []byte(`{"a":1}`))

	out := buf.String()
	assert.Contains(t, out, "== POST https://device.example/api/x")
	assert.Contains(t, out, "| Accept: application/json")
	assert.Contains(t, out, `| {"a":1}`)

	// Discovery-level traffic stays quiet at level 1.
	buf.Reset()
	tracer.Request(TraceDiscovery, req, nil)
	assert.Empty(t, buf.String())

	// Disabled tracer emits nothing.
	var silent *Tracer
	assert.False(t, silent.Enabled(TraceOperation))
}

func TestAppendURL(t *testing.T) {
	testCases := []struct {
		base, path, want string
	}{
		{"https://host/api", "/login", "https://host/api/login"},
		{"https://host/api/", "/login", "https://host/api/login"},
		{"", "/login", "/login"},
		{"https://host", "", "https://host"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, AppendURL(tc.base, tc.path))
	}
}

func TestErrorType(t *testing.T) {
	err := NewError(KindAuth, "denied").WithArg("why").WithStatus(401)
	assert.Equal(t, "denied (why)", err.Error())
	assert.Equal(t, 401, err.StatusCode)
	assert.True(t, errors.Is(err, &Error{Kind: KindAuth}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTransport}))

	cause := errors.New("root cause")
	wrapped := NewError(KindLocalIO, "io").WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestQueryEncoding(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", protocolHeader("object"))
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	sess := newTestSession(t, SessionConfig{})
	_, err := sess.Fetch(context.Background(), server.URL, FetchOptions{
		Query: url.Values{"interface": []string{"eth0"}, "enabled": []string{"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "eth0", gotQuery.Get("interface"))
	assert.Equal(t, "1", gotQuery.Get("enabled"))
}
