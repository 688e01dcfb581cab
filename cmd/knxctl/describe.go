// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"

	"github.com/LB-00/knx-secure/knx"
)

var describeCmd = &cobra.Command{
	Use:   "describe ADDRESS",
	Short: "Describe a single KNXnet/IP server",
	Long: `Send a Description Request to ADDRESS ("ip:port") and print the device
information, the supported and secured service families.`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	res, err := knx.DescribeTunnel(args[0], cfg.Gateway.ResponseTimeout)
	if err != nil {
		return err
	}

	printDescription(cmd.OutOrStdout(), &res.DescriptionBlock)
	return nil
}
