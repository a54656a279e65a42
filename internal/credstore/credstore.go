// File: internal/credstore/credstore.go

// Package credstore caches per-device credentials on disk so repeated
// invocations don't have to prompt. The store is a JSON object keyed by
// device ID; read problems degrade to "no credentials" rather than
// aborting.
package credstore

import (
	"os"

	json "github.com/json-iterator/go"

	"github.com/sensorkit/sensorctl/internal/api"
)

// entry is the stored credential set for one device.
type entry struct {
	User        string `json:"user,omitempty"`
	Password    string `json:"password,omitempty"`
	BearerToken string `json:"bearer-token,omitempty"`
}

// Store reads and writes the credential cache file.
type Store struct {
	Path string
}

// Load returns the cached user, password, and bearer token for a device.
// Missing files, malformed JSON, and unknown devices all return empty
// values.
func (s *Store) Load(deviceID string) (user, password, token string) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return "", "", ""
	}

	var data map[string]entry
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", "", ""
	}

	e, ok := data[deviceID]
	if !ok {
		return "", "", ""
	}
	// A usable entry has either a full basic-auth pair or a token.
	if (e.User == "" || e.Password == "") && e.BearerToken == "" {
		return "", "", ""
	}
	return e.User, e.Password, e.BearerToken
}

// Save stores the credentials for a device, merging into whatever the
// file already holds. The password is dropped when includePassword is
// false, which the fleet login sets when the server disables password
// caching. The file is written with owner-only permissions.
func (s *Store) Save(deviceID string, creds *api.Credentials, includePassword bool) error {
	data := make(map[string]entry)
	if raw, err := os.ReadFile(s.Path); err == nil {
		// A file we cannot parse is simply replaced.
		_ = json.Unmarshal(raw, &data)
	}

	e := entry{
		User:        creds.User,
		BearerToken: creds.BearerToken,
	}
	if includePassword {
		e.Password = creds.Password
	}
	data[deviceID] = e

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return api.NewError(api.KindLocalIO, "cannot encode credentials").WithCause(err)
	}

	if err := os.WriteFile(s.Path, encoded, 0o600); err != nil {
		return api.NewError(api.KindLocalIO, "cannot save credentials").WithArg(s.Path).WithCause(err)
	}
	// WriteFile keeps pre-existing permissions; force them tight.
	return os.Chmod(s.Path, 0o600)
}
