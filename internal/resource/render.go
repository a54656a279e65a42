// File: internal/resource/render.go
package resource

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sensorkit/sensorctl/internal/catalog"
)

// timeFormat is the readable representation for time-typed response
// fields.
const timeFormat = "2006-01-02 15:04:05 MST"

// pair is one display row: a label and a value. Continuation rows carry
// an empty label.
type pair struct {
	label string
	value string
}

// renderObject pretty-prints one JSON object from a response as a
// two-column block, guided by the declared response fields. Hidden
// fields are dropped, time fields are converted from epoch values,
// multi-line strings become one row per line, and non-empty sequences
// render as a labeled series.
func renderObject(fields map[string]catalog.FieldSpec, obj map[string]any, hidden map[string]bool) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !hidden[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var rows []pair
	for _, k := range keys {
		rows = append(rows, normalize(fields[k], k, obj[k])...)
	}

	return formatPairs(rows)
}

// normalize turns one field value into its display rows.
func normalize(field catalog.FieldSpec, key string, value any) []pair {
	if seq, ok := value.([]any); ok && len(seq) > 0 {
		// A non-empty sequence renders as a labeled series; 2-element
		// pairs get a fixed-precision first element, the usual shape of
		// a time series.
		rows := []pair{{key, formatSeriesEntry(seq[0])}}
		for _, entry := range seq[1:] {
			rows = append(rows, pair{"", formatSeriesEntry(entry)})
		}
		return rows
	}

	switch field.Type {
	case catalog.TypeString:
		// Multi-line strings get one row per line, with blank labels on
		// the continuation rows.
		lines := strings.Split(fmt.Sprint(value), "\n")
		rows := []pair{{key, lines[0]}}
		for _, line := range lines[1:] {
			rows = append(rows, pair{"", line})
		}
		return rows

	case catalog.TypeTime:
		if epoch, ok := asFloat(value); ok {
			return []pair{{key, time.Unix(int64(epoch), 0).Local().Format(timeFormat)}}
		}
	}

	return []pair{{key, fmt.Sprint(value)}}
}

func formatSeriesEntry(entry any) string {
	if tuple, ok := entry.([]any); ok && len(tuple) == 2 {
		if first, ok := asFloat(tuple[0]); ok {
			return fmt.Sprintf("%.6f: %v", first, tuple[1])
		}
	}
	return fmt.Sprint(entry)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// formatPairs renders rows into a column-aligned block, one line each,
// labels left-padded by two spaces and the value column aligned past the
// widest label.
func formatPairs(rows []pair) string {
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, r := range rows {
		if len(r.label) > width {
			width = len(r.label)
		}
	}

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-*s %s\n", width+2, r.label, r.value)
	}
	return b.String()
}
