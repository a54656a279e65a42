// File: internal/resource/files.go
package resource

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/catalog"
)

// saveFiles writes any file-bearing response fields to disk. File values
// arrive as {"name": ..., "content": <base64>}. An existing file of the
// same name is never overwritten; the content goes to the first free
// name among <name>.2, <name>.3, and so on.
func saveFiles(fields []catalog.FieldSpec, obj map[string]any, out io.Writer) error {
	for _, f := range fields {
		if f.Type != catalog.TypeFile {
			continue
		}
		value, ok := obj[f.Name].(map[string]any)
		if !ok {
			continue
		}

		encoded, _ := value["content"].(string)
		content, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return api.NewError(api.KindFormat, "cannot decode server's base64 file content").WithCause(err)
		}

		name, _ := value["name"].(string)
		if name == "" {
			name = f.Name
		}
		name = freeName(name)

		if err := os.WriteFile(name, content, 0o644); err != nil {
			return api.NewError(api.KindLocalIO, "error saving file").WithArg(name).WithCause(err)
		}

		fmt.Fprintf(out, "Saved %s\n", name)
		// The content went to disk; keep it out of the rendered block.
		delete(obj, f.Name)
	}

	return nil
}

// freeName returns name if it is unused, else the first unused
// name.<counter> starting at 2.
func freeName(name string) string {
	if _, err := os.Stat(name); os.IsNotExist(err) {
		return name
	}
	for c := 2; ; c++ {
		candidate := fmt.Sprintf("%s.%d", name, c)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
