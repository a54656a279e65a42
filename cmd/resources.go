// File: cmd/resources.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorkit/sensorctl/internal/catalog"
	"github.com/sensorkit/sensorctl/internal/observability"
)

// resourcesCmd lists the operations the device's catalog declares.
var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List the resource operations the device provides.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		cat, err := catalog.Discover(cmd.Context(), e.sess, e.cfg.BaseURL(), catalog.DiscoverOptions{
			SnapshotPath: e.cfg.Cache.File,
			Logger:       observability.GetLogger(),
		})
		if err != nil {
			return err
		}
		if err := cat.Save(e.cfg.Cache.File); err != nil {
			return err
		}

		for _, url := range cat.URLs() {
			d, _ := cat.Get(url)
			method := d.Method
			if method == "" {
				method = "GET"
			}
			if d.Summary != "" {
				fmt.Fprintf(os.Stdout, "%-7s %s  %s\n", method, url, d.Summary)
			} else {
				fmt.Fprintf(os.Stdout, "%-7s %s\n", method, url)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resourcesCmd)
}
