// File: internal/resource/render_test.go
package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sensorkit/sensorctl/internal/catalog"
)

func TestRenderObject(t *testing.T) {
	noFields := map[string]catalog.FieldSpec{}

	t.Run("Columns align past the widest label", func(t *testing.T) {
		got := renderObject(noFields, map[string]any{
			"id":     "abc",
			"status": "running",
		}, nil)
		assert.Equal(t, "  id       abc\n  status   running\n", got)
	})

	t.Run("Keys come out sorted", func(t *testing.T) {
		got := renderObject(noFields, map[string]any{
			"zeta":  "1",
			"alpha": "2",
		}, nil)
		assert.Equal(t, "  alpha   2\n  zeta    1\n", got)
	})

	t.Run("Hidden fields are dropped", func(t *testing.T) {
		got := renderObject(noFields, map[string]any{
			"visible": "yes",
			"secret":  "no",
		}, map[string]bool{"secret": true})
		assert.NotContains(t, got, "secret")
		assert.Contains(t, got, "visible")
	})

	t.Run("Empty object renders nothing", func(t *testing.T) {
		assert.Empty(t, renderObject(noFields, map[string]any{}, nil))
	})

	t.Run("Multi-line strings continue with blank labels", func(t *testing.T) {
		fields := map[string]catalog.FieldSpec{
			"log": {Name: "log", Type: catalog.TypeString},
		}
		got := renderObject(fields, map[string]any{"log": "first\nsecond"}, nil)
		assert.Equal(t, "  log   first\n        second\n", got)
	})

	t.Run("Time fields convert from epoch", func(t *testing.T) {
		fields := map[string]catalog.FieldSpec{
			"since": {Name: "since", Type: catalog.TypeTime},
		}
		epoch := float64(1700000000)
		got := renderObject(fields, map[string]any{"since": epoch}, nil)
		want := time.Unix(1700000000, 0).Local().Format("2006-01-02 15:04:05 MST")
		assert.Contains(t, got, want)
	})

	t.Run("Sequences become a labeled series", func(t *testing.T) {
		got := renderObject(noFields, map[string]any{
			"load": []any{
				[]any{float64(1.5), "ok"},
				[]any{float64(2.5), "busy"},
			},
		}, nil)
		assert.Equal(t, "  load   1.500000: ok\n         2.500000: busy\n", got)
	})

	t.Run("Empty sequences fall through to plain formatting", func(t *testing.T) {
		got := renderObject(noFields, map[string]any{"tags": []any{}}, nil)
		assert.Equal(t, "  tags   []\n", got)
	})
}
