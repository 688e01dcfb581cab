// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/knxnet"
)

func TestMonitor(t *testing.T) {
	sender, err := loadDataSecure(DataSecureConfig{KeyStore: writeKeyStore(t), Sequence: 10})
	require.NoError(t, err)

	receiver, err := loadDataSecure(DataSecureConfig{KeyStore: writeKeyStore(t), Sequence: 1})
	require.NoError(t, err)

	src := cemi.NewIndividualAddr3(1, 1, 5)
	secured, err := sender.EncryptLData(cemi.NewGroupWrite(src, cemi.NewGroupAddr3(1, 2, 3), []byte{0x01}))
	require.NoError(t, err)

	inbound := make(chan knxnet.Service, 4)
	inbound <- &knxnet.RoutingInd{Payload: &cemi.LDataInd{LData: cemi.NewGroupWrite(src, cemi.NewGroupAddr3(1, 2, 4), []byte{0x01})}}
	inbound <- &knxnet.RoutingLost{Count: 1}
	inbound <- &knxnet.RoutingInd{Payload: &cemi.LDataInd{LData: secured}}
	inbound <- &knxnet.RoutingInd{Payload: &cemi.LDataInd{LData: secured}}
	close(inbound)

	var out bytes.Buffer
	require.NoError(t, monitor(context.Background(), inbound, receiver, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "1.1.5 -> 1/2/4"))
	assert.True(t, strings.HasSuffix(lines[1], "[secure]"))
	assert.Contains(t, lines[1], "1.1.5 -> 1/2/3")

	// The replayed telegram is flagged.
	assert.True(t, strings.HasSuffix(lines[2], "[rejected]"))
}

func TestMonitorStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	assert.NoError(t, monitor(ctx, make(chan knxnet.Service), nil, &out))
	assert.Empty(t, out.String())
}

func TestTelegramLineSkipsConfirmations(t *testing.T) {
	ldata := cemi.NewGroupRead(cemi.NewIndividualAddr3(1, 1, 5), cemi.NewGroupAddr3(1, 2, 3))

	_, ok := telegramLine(nil, &cemi.LDataCon{LData: ldata})
	assert.False(t, ok)

	line, ok := telegramLine(nil, &cemi.LDataInd{LData: ldata})
	assert.True(t, ok)
	assert.Equal(t, ldata.String(), line)
}
