// File: cmd/call.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/catalog"
	"github.com/sensorkit/sensorctl/internal/observability"
	"github.com/sensorkit/sensorctl/internal/resource"
)

var callStdin bool

// callCmd invokes one resource operation with a name=value bag.
var callCmd = &cobra.Command{
	Use:   "call <resource> [name=value ...]",
	Short: "Invoke a resource operation on the device.",
	Long: `Invoke a resource operation on the device.

The resource is named by its catalog URL or by its path relative to the
API base. Values are given as name=value pairs; a bare name counts as a
set flag. With --stdin, additional values are read as a JSON object from
standard input.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().BoolVar(&callStdin, "stdin", false, "read additional values as JSON from standard input")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	cat, err := catalog.Discover(ctx, e.sess, e.cfg.BaseURL(), catalog.DiscoverOptions{
		SnapshotPath: e.cfg.Cache.File,
		Logger:       observability.GetLogger(),
	})
	if err != nil {
		return err
	}
	if err := cat.Save(e.cfg.Cache.File); err != nil {
		return err
	}

	desc, err := resolveResource(cat, e.cfg.BaseURL(), args[0])
	if err != nil {
		return err
	}

	values, err := parseValues(args[1:])
	if err != nil {
		return err
	}
	if callStdin {
		if err := mergeStdinValues(values); err != nil {
			return err
		}
	}

	interp := resource.NewInterpreter(e.sess, resource.Options{
		RawJSON:     e.cfg.Output.JSON,
		NoWait:      e.cfg.Output.NoWait,
		Out:         os.Stdout,
		ErrOut:      os.Stderr,
		In:          os.Stdin,
		Interactive: term.IsTerminal(int(os.Stdout.Fd())),
		Logger:      observability.GetLogger(),
	})

	if err := interp.Process(ctx, desc, values); err != nil {
		return err
	}

	e.saveCredentials()
	return nil
}

// resolveResource finds the descriptor for a resource named by full URL
// or by path relative to the API base.
func resolveResource(cat *catalog.Catalog, baseURL, name string) (*catalog.Descriptor, error) {
	if d, ok := cat.Get(name); ok {
		return &d, nil
	}
	full := api.AppendURL(strings.TrimSuffix(baseURL, "/"), "/"+strings.TrimPrefix(name, "/"))
	if d, ok := cat.Get(full); ok {
		return &d, nil
	}
	return nil, api.NewError(api.KindFormat, "device does not provide this resource").WithArg(name)
}

// parseValues turns name=value arguments into the value bag, mapping
// hyphens in names to underscores. A bare name becomes a set flag.
func parseValues(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, found := strings.Cut(arg, "=")
		if name == "" {
			return nil, fmt.Errorf("cannot parse argument %q", arg)
		}
		key := strings.ReplaceAll(name, "-", "_")
		if found {
			values[key] = value
		} else {
			values[key] = true
		}
	}
	return values, nil
}

// mergeStdinValues folds a JSON object from standard input into the
// value bag.
func mergeStdinValues(values map[string]any) error {
	var extra map[string]any
	if err := json.NewDecoder(os.Stdin).Decode(&extra); err != nil {
		return fmt.Errorf("cannot parse JSON on standard input: %w", err)
	}
	for k, v := range extra {
		values[strings.ReplaceAll(k, "-", "_")] = v
	}
	return nil
}
