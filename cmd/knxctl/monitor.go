// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/secure"
	"github.com/LB-00/knx-secure/knx/util"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print group telegrams routed on the multicast group",
	Long: `Join the KNXnet/IP routing multicast group and print every group telegram.
Data Secure telegrams are decrypted with the configured key store; telegrams
without a key are printed as they are. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	dataSecure, err := loadDataSecure(cfg.DataSecure)
	if err != nil {
		return err
	}

	sock, err := knxnet.ListenRouter(cfg.Search.Multicast)
	if err != nil {
		return err
	}
	defer sock.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return monitor(ctx, sock.Inbound(), dataSecure, cmd.OutOrStdout())
}

// monitor prints the routed telegrams until ctx is done or the inbound channel closes.
func monitor(ctx context.Context, inbound <-chan knxnet.Service, dataSecure *secure.DataSecure, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case srv, open := <-inbound:
			if !open {
				return nil
			}

			ind, ok := srv.(*knxnet.RoutingInd)
			if !ok {
				continue
			}

			if line, ok := telegramLine(dataSecure, ind.Payload); ok {
				fmt.Fprintln(w, line)
			}
		}
	}
}

// telegramLine formats an L_Data.ind. Other messages are skipped.
func telegramLine(dataSecure *secure.DataSecure, msg cemi.Message) (string, bool) {
	ind, ok := msg.(*cemi.LDataInd)
	if !ok {
		return "", false
	}

	ldata := ind.LData
	if dataSecure == nil {
		return ldata.String(), true
	}

	plain, err := dataSecure.DecryptLData(ldata)
	switch {
	case err == nil:
		return plain.String() + " [secure]", true

	case errors.Is(err, secure.ErrNotSecured), errors.Is(err, secure.ErrNoGroupKey):
		return ldata.String(), true

	default:
		util.Warn(dataSecure, "Rejected telegram from %s: %v", ldata.Source, err)
		return ldata.String() + " [rejected]", true
	}
}
