// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/LB-00/knx-secure/knx"
)

var searchTimeout time.Duration

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Discover KNXnet/IP servers on the local network",
	Long: `Send a Search Request to the KNXnet/IP multicast group and list every server
that answers, together with the service families it secures.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().DurationVarP(&searchTimeout, "timeout", "t", 0, "how long to collect answers (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	timeout := cfg.Search.Timeout
	if searchTimeout > 0 {
		timeout = searchTimeout
	}

	results, err := knx.Discover(cfg.Search.Multicast, timeout)
	if err != nil {
		return err
	}

	printSearchResults(cmd.OutOrStdout(), results)
	return nil
}
