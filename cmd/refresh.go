// File: cmd/refresh.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorkit/sensorctl/internal/catalog"
	"github.com/sensorkit/sensorctl/internal/observability"
)

// refreshCmd rediscovers the catalog, ignoring any snapshot.
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rediscover the device's resource catalog, ignoring the cached snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		cat, err := catalog.Discover(cmd.Context(), e.sess, e.cfg.BaseURL(), catalog.DiscoverOptions{
			Force:  true,
			Logger: observability.GetLogger(),
		})
		if err != nil {
			return err
		}
		if err := cat.Save(e.cfg.Cache.File); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Discovered %d resources.\n", cat.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
