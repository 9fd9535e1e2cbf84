// Command siloctl is the operator CLI: it never talks to internal packages
// directly, only to a running silod's diagnostic HTTP surface, matching
// SPEC_FULL.md's supplemented siloctl design. Its command tree (one root
// *cobra.Command, nested subcommands, a persistent --addr flag) is grounded
// on getployz-ployz's cmd/ployz command tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addrFlag string

func main() {
	root := &cobra.Command{
		Use:   "siloctl",
		Short: "operate a running silo cluster",
	}
	root.PersistentFlags().StringVarP(&addrFlag, "addr", "a", "http://127.0.0.1:8080", "base URL of a silod diagnostic listener")

	root.AddCommand(clusterCmd(), dlqCmd(), migrateCmd(), topCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, uiErrorMsg("%s", err))
		os.Exit(1)
	}
}

func client() *apiClient {
	return newAPIClient(addrFlag)
}
