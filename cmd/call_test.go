// File: cmd/call_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorkit/sensorctl/internal/catalog"
)

func TestParseValues(t *testing.T) {
	t.Run("Pairs, flags, and hyphen mapping", func(t *testing.T) {
		values, err := parseValues([]string{"iface=eth0", "max-size=10", "verbose", "empty="})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"iface":    "eth0",
			"max_size": "10",
			"verbose":  true,
			"empty":    "",
		}, values)
	})

	t.Run("Value may contain an equals sign", func(t *testing.T) {
		values, err := parseValues([]string{"filter=ip.src == 10.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, "ip.src == 10.0.0.1", values["filter"])
	})

	t.Run("Empty name is rejected", func(t *testing.T) {
		_, err := parseValues([]string{"=value"})
		assert.Error(t, err)
	})
}

func TestResolveResource(t *testing.T) {
	const base = "https://dev1/api/"
	cat := catalog.New("c1")
	cat.Add("https://dev1/api/pcap/start", catalog.Descriptor{
		URL:    "https://dev1/api/pcap/start",
		Method: "POST",
	})

	t.Run("Full URL", func(t *testing.T) {
		d, err := resolveResource(cat, base, "https://dev1/api/pcap/start")
		require.NoError(t, err)
		assert.Equal(t, "POST", d.Method)
	})

	t.Run("Base-relative path", func(t *testing.T) {
		d, err := resolveResource(cat, base, "pcap/start")
		require.NoError(t, err)
		assert.Equal(t, "POST", d.Method)
	})

	t.Run("Leading slash is tolerated", func(t *testing.T) {
		_, err := resolveResource(cat, base, "/pcap/start")
		require.NoError(t, err)
	})

	t.Run("Unknown resource", func(t *testing.T) {
		_, err := resolveResource(cat, base, "no/such/thing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not provide")
	})
}
