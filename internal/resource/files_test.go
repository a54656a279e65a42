// File: internal/resource/files_test.go
package resource

import (
	"bytes"
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/catalog"
)

// chdir is a stand-in for t.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func fileValue(name, content string) map[string]any {
	v := map[string]any{"content": base64.StdEncoding.EncodeToString([]byte(content))}
	if name != "" {
		v["name"] = name
	}
	return v
}

func TestSaveFiles(t *testing.T) {
	fields := []catalog.FieldSpec{
		{Name: "report", Type: catalog.TypeFile},
		{Name: "note", Type: catalog.TypeString},
	}

	t.Run("Writes the file and announces it", func(t *testing.T) {
		chdir(t, t.TempDir())
		out := &bytes.Buffer{}
		obj := map[string]any{
			"report": fileValue("report.txt", "all clear"),
			"note":   "done",
		}

		require.NoError(t, saveFiles(fields, obj, out))

		content, err := os.ReadFile("report.txt")
		require.NoError(t, err)
		assert.Equal(t, "all clear", string(content))
		assert.Equal(t, "Saved report.txt\n", out.String())

		// The saved entry must not leak into rendering.
		_, ok := obj["report"]
		assert.False(t, ok)
		assert.Equal(t, "done", obj["note"])
	})

	t.Run("Never overwrites, counts up instead", func(t *testing.T) {
		chdir(t, t.TempDir())
		out := &bytes.Buffer{}
		require.NoError(t, os.WriteFile("report.txt", []byte("old"), 0o644))
		require.NoError(t, os.WriteFile("report.txt.2", []byte("older"), 0o644))

		obj := map[string]any{"report": fileValue("report.txt", "new")}
		require.NoError(t, saveFiles(fields, obj, out))

		content, err := os.ReadFile("report.txt.3")
		require.NoError(t, err)
		assert.Equal(t, "new", string(content))

		original, err := os.ReadFile("report.txt")
		require.NoError(t, err)
		assert.Equal(t, "old", string(original))
		assert.Equal(t, "Saved report.txt.3\n", out.String())
	})

	t.Run("Field name stands in for a missing file name", func(t *testing.T) {
		chdir(t, t.TempDir())
		obj := map[string]any{"report": fileValue("", "x")}
		require.NoError(t, saveFiles(fields, obj, &bytes.Buffer{}))
		_, err := os.Stat("report")
		assert.NoError(t, err)
	})

	t.Run("Absent file fields are skipped", func(t *testing.T) {
		obj := map[string]any{"note": "nothing to save"}
		require.NoError(t, saveFiles(fields, obj, &bytes.Buffer{}))
	})

	t.Run("Broken base64 is a protocol error", func(t *testing.T) {
		obj := map[string]any{"report": map[string]any{"content": "%%%not-base64%%%"}}
		err := saveFiles(fields, obj, &bytes.Buffer{})
		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, api.KindFormat, apiErr.Kind)
	})
}
