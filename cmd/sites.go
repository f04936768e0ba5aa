// File: cmd/sites.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cartpilot/internal/selectors"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the sites with a built-in selector catalog.",
	Run: func(cmd *cobra.Command, args []string) {
		registry := selectors.NewRegistry()
		for _, name := range registry.Sites() {
			profile, err := registry.Site(name)
			if err != nil {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, profile.SearchURL)
		}
	},
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}
