// File: internal/api/session.go
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxAPIVersion is the most recent API version this client understands.
// A server announcing a newer one requires a client update.
const maxAPIVersion = 1

// Device identity headers. The current header is checked first, the
// legacy one kept for appliances that predate the rename.
const (
	headerDeviceUID       = "X-SENSOR-UID"
	headerDeviceUIDLegacy = "X-NSM-UID"
	headerInfoMessage     = "X-INFO-MESSAGE"
)

// twoFactorChallengeMarker prefixes the WWW-Authenticate value a device
// sends when it wants composite two-factor basic-auth credentials.
const twoFactorChallengeMarker = "BasicWith2fa"

// identityHostnames are the certificate common names a default device
// certificate may carry, templated over the device UID.
var identityHostnames = []string{
	"%s.device.sensorunit.io",
	"%s.api.sensorunit.io",
	"%s.mgmt.sensorunit.io",
}

// Credentials is the mutable session credential state. The auth handshake
// mutates it in place (composite 2FA usernames, obtained bearer tokens)
// so later requests in the same process reuse the results.
type Credentials struct {
	User        string
	Password    string
	BearerToken string
	// Passcode is the two-factor passcode source: "-" prompts
	// interactively, anything else is used verbatim, empty disables.
	Passcode string
	// AuthBaseURL is the fleet controller's authentication endpoint.
	// When set, a bearer token is obtained there before the first
	// device request.
	AuthBaseURL string
	// NoBlock prohibits all interactive prompting.
	NoBlock bool
	// NoPasswordSave is set when the server announces that password
	// caching is disabled; the credential store honors it.
	NoPasswordSave bool
}

// SessionConfig carries everything a Session needs. Transport selection
// (TCP+TLS vs. local socket) happens once here and is fixed afterwards.
type SessionConfig struct {
	Credentials *Credentials
	TLS         TLSOptions
	// SocketPath switches the transport to a local stream socket.
	SocketPath string
	Tracer     *Tracer
	Logger     *zap.Logger
	Prompter   Prompter
	// Notices receives user-facing notes (X-INFO-MESSAGE); defaults to
	// io.Discard.
	Notices   io.Writer
	UserAgent string
}

// Session issues HTTP requests to a sensor appliance. It owns the shared
// transport, attaches authentication, validates the device identity, and
// converts responses into Envelopes. A Session issues one request at a
// time; it is not safe for concurrent use, matching the engine's single
// outstanding request model.
type Session struct {
	client    *http.Client
	creds     *Credentials
	tlsOpts   TLSOptions
	tracer    *Tracer
	logger    *zap.Logger
	prompter  Prompter
	notices   io.Writer
	userAgent string
	fleet     bool
}

// NewSession constructs a Session and its transport.
func NewSession(cfg SessionConfig) (*Session, error) {
	transport, err := NewTransport(cfg.TLS, cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	creds := cfg.Credentials
	if creds == nil {
		creds = &Credentials{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notices := cfg.Notices
	if notices == nil {
		notices = io.Discard
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sensorctl"
	}

	return &Session{
		client:    &http.Client{Transport: transport},
		creds:     creds,
		tlsOpts:   cfg.TLS,
		tracer:    cfg.Tracer,
		logger:    logger.Named("session"),
		prompter:  cfg.Prompter,
		notices:   notices,
		userAgent: userAgent,
		fleet:     creds.AuthBaseURL != "",
	}, nil
}

// Credentials returns the mutable credential state shared with the
// caller.
func (s *Session) Credentials() *Credentials { return s.creds }

// Upload is one file destined for a multipart form.
type Upload struct {
	Field    string
	Filename string
	Content  []byte
}

// FetchOptions shape a single request.
type FetchOptions struct {
	// Method defaults to GET.
	Method string
	Query  url.Values
	// JSONBody is encoded as the JSON request body. When Uploads is
	// non-empty it is folded into the multipart form instead, since the
	// two body encodings cannot be mixed.
	JSONBody map[string]any
	Uploads  []Upload
	// TraceLevel is the wire trace level for this request; catalog
	// discovery uses TraceDiscovery so level 1 stays quiet for it.
	TraceLevel int
}

// Fetch retrieves a URL and interprets the result per the appliance API:
// the body must be JSON, and the Content-Type must carry schema, version,
// and cache parameters on any successful status. On error statuses those
// requirements are relaxed and an Envelope with whatever could be decoded
// is returned. Protocol violations, auth failures, and transport failures
// come back as *Error.
func (s *Session) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Envelope, error) {
	if s.fleet && s.creds.BearerToken == "" {
		if err := s.fleetLogin(ctx); err != nil {
			return nil, err
		}
	}

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.TraceLevel == 0 {
		opts.TraceLevel = TraceOperation
	}

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}

	resp, raw, err := s.do(ctx, rawURL, opts, body, contentType)
	if err != nil {
		return nil, err
	}

	if info := resp.Header.Get(headerInfoMessage); info != "" {
		fmt.Fprintf(s.notices, "Note: %s\n", info)
	}

	// A BasicWith2fa challenge means the device wants composite
	// two-factor credentials; satisfy it and retry the request once.
	if challenge := resp.Header.Get("WWW-Authenticate"); strings.HasPrefix(challenge, twoFactorChallengeMarker) {
		resp, raw, err = s.retryWithTwoFactor(ctx, rawURL, opts, body, contentType)
		if err != nil {
			return nil, err
		}
	}

	if err := s.checkIdentity(resp); err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, NewError(KindAuth,
			"request not authorized. Did you specify a correct username and password?").
			WithStatus(resp.StatusCode)
	case http.StatusForbidden:
		return nil, NewError(KindAuth,
			"operation forbidden. You do not have the needed access right.").
			WithStatus(resp.StatusCode)
	}

	return s.interpret(rawURL, resp, raw)
}

// do issues one request attempt and returns the response with its fully
// read body.
func (s *Session) do(ctx context.Context, rawURL string, opts FetchOptions, body []byte, contentType string) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	target := rawURL
	if len(opts.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + opts.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, target, reader)
	if err != nil {
		return nil, nil, NewError(KindTransport, "cannot build request").WithArg(rawURL).WithCause(err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	// Basic auth is only used until a bearer token is held; fleet
	// sessions never send device-level basic auth.
	if s.creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.creds.BearerToken)
	} else if s.creds.User != "" && s.creds.Password != "" && !s.fleet {
		req.SetBasicAuth(s.creds.User, s.creds.Password)
	}

	s.tracer.Request(opts.TraceLevel, req, body)

	resp, err := s.client.Do(req)
	if err != nil {
		host := rawURL
		if u, uerr := url.Parse(rawURL); uerr == nil && u.Host != "" {
			host = u.Host
		}
		return nil, nil, NewError(KindTransport,
			fmt.Sprintf("cannot connect to device at %s", host)).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, NewError(KindTransport, "cannot read response from device").WithCause(err)
	}

	s.tracer.Response(opts.TraceLevel, resp, raw)

	if s.tracer.Enabled(opts.TraceLevel) && resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		s.tracer.Printf(opts.TraceLevel, "+ subject: %s", resp.TLS.PeerCertificates[0].Subject)
	}

	return resp, raw, nil
}

// retryWithTwoFactor answers an in-band BasicWith2fa challenge: prompt
// for a passcode, rewrite the credentials into the composite form the
// device expects (user "2fa|<authtype>|<user>", password
// "<passcode>|<password>"), retry the request once, and capture the
// session's bearer token from the response headers.
func (s *Session) retryWithTwoFactor(ctx context.Context, rawURL string, opts FetchOptions, body []byte, contentType string) (*http.Response, []byte, error) {
	passcode, err := s.promptPasscode()
	if err != nil {
		return nil, nil, err
	}

	if !strings.Contains(s.creds.User, "|") {
		s.creds.User = "2fa||" + s.creds.User
	} else {
		// The user already spelled out an authenticator type as
		// "<authtype>|<user>".
		s.creds.User = "2fa|" + s.creds.User
	}
	s.creds.Password = passcode + "|" + s.creds.Password

	resp, raw, err := s.do(ctx, rawURL, opts, body, contentType)
	if err != nil {
		return nil, nil, err
	}

	auth := resp.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		s.creds.BearerToken = strings.TrimPrefix(auth, "Bearer ")
	case strings.HasPrefix(auth, "SessionID="):
		s.creds.BearerToken = strings.TrimPrefix(auth, "SessionID=")
	default:
		return nil, nil, NewError(KindAuth, "cannot get 2fa session from device")
	}

	return resp, raw, nil
}

func (s *Session) promptPasscode() (string, error) {
	if s.creds.NoBlock || s.prompter == nil {
		return "", NewError(KindAuth, "no 2FA passcode has been provided and prompting is disabled")
	}
	passcode, err := s.prompter.PromptSecret("Verification Code")
	if err != nil {
		return "", NewError(KindAuth, "cannot read 2FA passcode").WithCause(err)
	}
	return strings.TrimSpace(passcode), nil
}

// checkIdentity cross-checks the certificate common name against the
// device UID the appliance reports, catching certificates copied between
// devices. Only meaningful when the embedded root is pinned.
func (s *Session) checkIdentity(resp *http.Response) error {
	if !s.tlsOpts.Pinned() || s.fleet {
		return nil
	}
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil
	}

	uid := resp.Header.Get(headerDeviceUID)
	if uid == "" {
		uid = resp.Header.Get(headerDeviceUIDLegacy)
	}
	if uid == "" {
		return nil
	}

	cn := resp.TLS.PeerCertificates[0].Subject.CommonName
	for _, tmpl := range identityHostnames {
		if cn == fmt.Sprintf(tmpl, uid) {
			return nil
		}
	}

	return NewError(KindIdentity,
		fmt.Sprintf("device's UID does not match its certificate (certificate %s for device %s)", cn, uid))
}

// interpret turns a raw response into an Envelope, enforcing the
// schema/version/cache triple on successful statuses and tolerating its
// absence on errors.
func (s *Session) interpret(rawURL string, resp *http.Response, raw []byte) (*Envelope, error) {
	env := &Envelope{
		Status: resp.StatusCode,
		Header: resp.Header,
		Raw:    raw,
	}
	success := env.Success()

	ct, ctErr := ParseContentType(resp.Header.Get("Content-Type"))

	if ctErr == nil && ct.IsJSON() {
		if err := json.Unmarshal(raw, &env.Body); err != nil {
			if success {
				return nil, NewError(KindFormat, "cannot decode JSON body of response").
					WithArg(rawURL).WithStatus(resp.StatusCode).WithCause(err)
			}
			return env, nil
		}
	} else if resp.StatusCode == http.StatusAccepted {
		// 202 Accepted carries no protocol parameters; the result comes
		// later via the Location URL.
		return env, nil
	} else {
		if success {
			return nil, NewError(KindFormat, "received non-JSON response from device").
				WithArg(rawURL).WithStatus(resp.StatusCode)
		}
		return env, nil
	}

	schema, version, cache := ct.Schema(), ct.Version(), ct.Cache()
	if _, ok := ct.Params["schema"]; !ok {
		if success {
			return nil, NewError(KindFormat, "device response did not include all required API parameters").
				WithArg(rawURL).WithStatus(resp.StatusCode)
		}
		return env, nil
	}
	if _, ok := ct.Params["version"]; !ok {
		if success {
			return nil, NewError(KindFormat, "device response did not include all required API parameters").
				WithArg(rawURL).WithStatus(resp.StatusCode)
		}
		return env, nil
	}
	if _, ok := ct.Params["cache"]; !ok {
		if success {
			return nil, NewError(KindFormat, "device response did not include all required API parameters").
				WithArg(rawURL).WithStatus(resp.StatusCode)
		}
		return env, nil
	}

	v, err := strconv.Atoi(version)
	if err != nil {
		// Unparseable version stays fatal even on error statuses.
		return nil, NewError(KindFormat, "cannot parse version in response").
			WithArg(rawURL).WithStatus(resp.StatusCode)
	}
	if v > maxAPIVersion {
		return nil, NewError(KindFormat,
			"this client does not support the device's API version, please update the client").
			WithStatus(resp.StatusCode)
	}

	env.Schema = schema
	env.Version = version
	env.Cache = cache
	return env, nil
}

// encodeBody turns FetchOptions into the request body and its content
// type. File uploads force a multipart form with all JSON fields folded
// in as form values.
func encodeBody(opts FetchOptions) ([]byte, string, error) {
	if len(opts.Uploads) > 0 {
		return encodeMultipart(opts)
	}
	if opts.JSONBody == nil {
		return nil, "", nil
	}
	body, err := json.Marshal(opts.JSONBody)
	if err != nil {
		return nil, "", NewError(KindFormat, "cannot encode request body").WithCause(err)
	}
	return body, "application/json", nil
}

func encodeMultipart(opts FetchOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, up := range opts.Uploads {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, up.Field, filepath.Base(up.Filename)))
		hdr.Set("Content-Type", "application/octet-stream")
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", NewError(KindFormat, "cannot encode multipart body").WithCause(err)
		}
		if _, err := part.Write(up.Content); err != nil {
			return nil, "", NewError(KindFormat, "cannot encode multipart body").WithCause(err)
		}
	}

	for name, value := range opts.JSONBody {
		str, ok := value.(string)
		if !ok {
			encoded, err := json.MarshalToString(value)
			if err != nil {
				return nil, "", NewError(KindFormat, "cannot encode multipart body").WithCause(err)
			}
			str = encoded
		}
		if err := w.WriteField(name, str); err != nil {
			return nil, "", NewError(KindFormat, "cannot encode multipart body").WithCause(err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", NewError(KindFormat, "cannot encode multipart body").WithCause(err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
