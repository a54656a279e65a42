// File: internal/api/auth.go
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Fleet controller endpoints, relative to Credentials.AuthBaseURL.
const (
	fleetLoginPath  = "/login"
	fleetVerifyPath = "/current/2fa/verify"
)

// fleetLogin obtains a bearer token from the fleet controller: POST the
// username/password, then run the two-factor verification exchange when
// the server demands it. The obtained token is stored in the session's
// credentials so every subsequent request uses it.
func (s *Session) fleetLogin(ctx context.Context) error {
	if s.creds.User == "" || s.creds.Password == "" {
		return nil
	}

	loginURL := AppendURL(s.creds.AuthBaseURL, fleetLoginPath)

	body, err := s.authPost(ctx, loginURL, map[string]any{
		"username": s.creds.User,
		"password": s.creds.Password,
	})
	if err != nil {
		return err
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return NewError(KindAuth,
			"server did not return a valid authentication bearer token. Please check the url and try again.")
	}

	if gjson.GetBytes(body, `settings.password\.cache\.disabled`).Bool() {
		s.creds.NoPasswordSave = true
	}

	if gjson.GetBytes(body, `2fa\.required`).Bool() {
		if gjson.GetBytes(body, `2fa\.should_enroll`).Bool() {
			return NewError(KindAuth,
				"the user needs to enroll an authenticator app before using this client")
		}

		token, err = s.fleetVerify(ctx)
		if err != nil {
			return err
		}
	}

	s.creds.BearerToken = token
	s.logger.Debug("fleet login complete", zap.Bool("2fa", gjson.GetBytes(body, `2fa\.required`).Bool()))
	return nil
}

// fleetVerify runs the passcode exchange against the verification
// endpoint and returns the replacement bearer token.
func (s *Session) fleetVerify(ctx context.Context) (string, error) {
	var passcode string
	if s.creds.Passcode == "-" && !s.creds.NoBlock && s.prompter != nil {
		p, err := s.prompter.PromptSecret("Verification Code")
		if err != nil {
			return "", NewError(KindAuth, "cannot read 2FA passcode").WithCause(err)
		}
		passcode = strings.TrimSpace(p)
	}

	if passcode == "" {
		return "", NewError(KindAuth,
			"no 2FA passcode has been provided. Please provide a proper passcode and try again.")
	}

	body, err := s.authPost(ctx, AppendURL(s.creds.AuthBaseURL, fleetVerifyPath),
		map[string]any{"passcode": passcode})
	if err != nil {
		return "", err
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", NewError(KindAuth,
			"server did not return a valid authentication bearer token. Please check the url and try again.")
	}

	return token, nil
}

// authPost issues one JSON POST against the fleet controller. These
// endpoints speak plain JSON without the schema/version/cache triple, so
// the response is returned raw.
func (s *Session) authPost(ctx context.Context, url string, payload map[string]any) ([]byte, error) {
	body, contentType, err := encodeBody(FetchOptions{JSONBody: payload})
	if err != nil {
		return nil, err
	}

	resp, raw, err := s.do(ctx, url, FetchOptions{
		Method:     http.MethodPost,
		TraceLevel: TraceOperation,
	}, body, contentType)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(KindAuth, "authentication request failed").
			WithArg(url).WithStatus(resp.StatusCode)
	}

	return raw, nil
}

// AppendURL joins a base URL and a path, collapsing a duplicate slash at
// the seam. Query strings are not supported.
func AppendURL(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	if strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/") {
		base = strings.TrimSuffix(base, "/")
	}
	return base + path
}
