// File: internal/api/transport.go
package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/http2"
)

// The root CA that default appliance certificates chain to. Hostname
// verification is skipped for this pool; device identity is checked
// separately against the X-SENSOR-UID header (see Session.checkIdentity).
//
//go:embed certs/root.pem
var pinnedRootPEM []byte

// Transport timeouts. The overall request timeout stays unset because
// some appliance operations (diagnostics bundles, packet captures) are
// legitimately slow.
const (
	defaultDialTimeout         = 10 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultKeepAliveInterval   = 15 * time.Second
)

// TLSOptions are the caller-supplied certificate validation overrides.
type TLSOptions struct {
	// CACert selects the trust anchors: empty pins to the embedded root
	// CA (with hostname verification deferred to the device identity
	// check), "system" selects the platform trust store, a directory
	// trusts every certificate file under it, anything else is read as a
	// single PEM file.
	CACert string
	// NoVerifyHostname disables hostname verification against the URL.
	NoVerifyHostname bool
	// NoVerifyCertificate disables certificate validation entirely.
	NoVerifyCertificate bool
}

// Pinned reports whether the embedded root is in use, which is the
// precondition for the device-UID identity cross-check.
func (o TLSOptions) Pinned() bool {
	return o.CACert == "" && !o.NoVerifyCertificate && !o.NoVerifyHostname
}

// NewTransport builds the http.RoundTripper used for every request of a
// session. When socketPath is non-empty all requests are dialed over the
// local stream socket instead of TCP; TLS options are ignored in that
// case. The choice is made once per session and fixed afterwards.
func NewTransport(opts TLSOptions, socketPath string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}

	if socketPath != "" {
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		}, nil
	}

	tlsConfig, err := newTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		// HTTP/1.1 works fine against every appliance release; don't fail.
		transport.ForceAttemptHTTP2 = false
	}

	return transport, nil
}

// newTLSConfig translates TLSOptions into a tls.Config.
func newTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.NoVerifyCertificate {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	switch {
	case opts.CACert == "":
		// Pin to the embedded root and skip hostname verification; the
		// identity check against the device UID replaces it.
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pinnedRootPEM) {
			return nil, NewError(KindTransport, "cannot load embedded root CA certificate")
		}
		cfg.RootCAs = pool
		disableHostnameVerification(cfg, pool)

	case opts.CACert == "system":
		// Platform default trust store; RootCAs stays nil.

	default:
		pool, err := loadCertPool(opts.CACert)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
		if opts.NoVerifyHostname {
			disableHostnameVerification(cfg, pool)
		}
	}

	return cfg, nil
}

// disableHostnameVerification keeps chain validation against the pool but
// drops the hostname check. crypto/tls has no direct switch for this, so
// the chain is verified manually with an empty DNSName.
func disableHostnameVerification(cfg *tls.Config, pool *x509.CertPool) {
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		}
		if len(certs) == 0 {
			return NewError(KindTransport, "server presented no certificate")
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
		})
		return err
	}
}

// loadCertPool builds a pool from a PEM file, or from all files in a
// directory when the path is one.
func loadCertPool(path string) (*x509.CertPool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewError(KindLocalIO, "cannot read CA certificate").WithArg(path).WithCause(err)
	}

	pool := x509.NewCertPool()

	if !info.IsDir() {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, NewError(KindLocalIO, "cannot read CA certificate").WithArg(path).WithCause(err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, NewError(KindFormat, "no certificates found in CA file").WithArg(path)
		}
		return pool, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, NewError(KindLocalIO, "cannot read CA certificate directory").WithArg(path).WithCause(err)
	}

	added := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			continue
		}
		if pool.AppendCertsFromPEM(pem) {
			added = true
		}
	}
	if !added {
		return nil, NewError(KindFormat, "no certificates found in CA directory").WithArg(path)
	}

	return pool, nil
}
