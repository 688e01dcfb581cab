// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LB-00/knx-secure/knx"
	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/secure"
	"github.com/LB-00/knx-secure/knx/util"
)

var writeAddress string

var writeCmd = &cobra.Command{
	Use:   "write GROUP HEXVALUE",
	Short: "Write a group value through a secure tunnel",
	Long: `Connect a KNX IP Secure tunnel to the configured gateway and send a
GroupValueWrite for GROUP. The group address is given in three-level notation
(e.g. 1/2/3), the value as hex (e.g. 01 or 0c1a).

If the key store holds a key for GROUP the telegram is protected with KNX Data
Secure before it is sent.

Examples:
  knxctl write 1/2/3 01 --config knxctl.yaml
  KNXCTL_GATEWAY_USER_PASSWORD=secret knxctl write 1/2/3 0c1a --address 192.168.1.10:3671`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVarP(&writeAddress, "address", "a", "", "gateway address (default from config)")
}

func runWrite(cmd *cobra.Command, args []string) error {
	group, err := cemi.NewGroupAddrString(args[0])
	if err != nil {
		return fmt.Errorf("invalid group address: %w", err)
	}

	value, err := hex.DecodeString(args[1])
	if err != nil || len(value) == 0 {
		return fmt.Errorf("invalid value %q", args[1])
	}

	address := cfg.Gateway.Address
	if writeAddress != "" {
		address = writeAddress
	}
	if address == "" {
		return fmt.Errorf("no gateway address configured")
	}

	dataSecure, err := loadDataSecure(cfg.DataSecure)
	if err != nil {
		return err
	}

	tunnelConfig, err := cfg.TunnelConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*tunnelConfig.ResponseTimeout)
	defer cancel()

	tunnel, err := knx.DialSecureTunnel(ctx, address, tunnelConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer tunnel.Close("done")

	ldata, err := groupWrite(dataSecure, tunnel.SourceAddr(), group, value)
	if err != nil {
		return err
	}

	if err := tunnel.Send(&cemi.LDataReq{LData: ldata}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", ldata.String())
	return nil
}

// groupWrite builds the telegram, secured when dataSecure holds a key for the group.
func groupWrite(dataSecure *secure.DataSecure, src cemi.IndividualAddr, group cemi.GroupAddr, value []byte) (cemi.LData, error) {
	ldata := cemi.NewGroupWrite(src, group, value)

	if dataSecure == nil || !dataSecure.IsSecured(group) {
		return ldata, nil
	}

	secured, err := dataSecure.EncryptLData(ldata)
	if err != nil {
		return ldata, fmt.Errorf("failed to secure telegram: %w", err)
	}

	util.Logger.WithFields(logrus.Fields{
		"group":    group,
		"sequence": dataSecure.Sequence() - 1,
	}).Info("Telegram protected with Data Secure")

	return secured, nil
}

// loadDataSecure returns nil when no key store is configured.
func loadDataSecure(config DataSecureConfig) (*secure.DataSecure, error) {
	if config.KeyStore == "" {
		return nil, nil
	}

	keys, err := secure.LoadKeyStore(config.KeyStore)
	if err != nil {
		return nil, fmt.Errorf("failed to load key store: %w", err)
	}

	seq := config.Sequence
	if seq == 0 {
		seq = uint64(time.Now().UnixMilli())
	}

	return secure.NewDataSecure(keys, seq), nil
}
