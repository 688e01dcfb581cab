// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/LB-00/knx-secure/knx/knxnet"
)

var familyNames = map[knxnet.ServiceFamilyType]string{
	knxnet.ServiceFamilyTypeIPCore:                            "core",
	knxnet.ServiceFamilyTypeIPDeviceManagement:                "device-management",
	knxnet.ServiceFamilyTypeIPTunnelling:                      "tunnelling",
	knxnet.ServiceFamilyTypeIPRouting:                         "routing",
	knxnet.ServiceFamilyTypeIPRemoteLogging:                   "remote-logging",
	knxnet.ServiceFamilyTypeIPRemoteConfigurationAndDiagnosis: "remote-config",
	knxnet.ServiceFamilyTypeIPObjectServer:                    "object-server",
	knxnet.ServiceFamilyTypeIPSecure:                          "secure",
}

func familyList(families []knxnet.ServiceFamily) string {
	if len(families) == 0 {
		return "-"
	}

	names := make([]string, 0, len(families))
	for _, family := range families {
		name, ok := familyNames[family.Type]
		if !ok {
			name = fmt.Sprintf("0x%02x", uint8(family.Type))
		}
		names = append(names, fmt.Sprintf("%s/v%d", name, family.Version))
	}
	return strings.Join(names, ",")
}

// printSearchResults writes one line per server.
func printSearchResults(w io.Writer, results []*knxnet.SearchRes) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No KNXnet/IP servers found")
		return
	}

	for _, res := range results {
		fmt.Fprintf(w, "%-22s %-10s %-30q secured=%s\n",
			res.Control,
			res.DeviceHardware.Source,
			res.DeviceHardware.FriendlyName,
			familyList(res.SecuredServices.Families))
	}
}

// printDescription writes the device details of a description block.
func printDescription(w io.Writer, block *knxnet.DescriptionBlock) {
	device := &block.DeviceHardware

	fmt.Fprintf(w, "Name:         %s\n", device.FriendlyName)
	fmt.Fprintf(w, "Address:      %s\n", device.Source)
	fmt.Fprintf(w, "Serial:       %x\n", device.SerialNumber[:])
	fmt.Fprintf(w, "MAC:          %s\n", device.HardwareAddr)
	fmt.Fprintf(w, "Prog mode:    %t\n", device.Status.ProgMode())
	fmt.Fprintf(w, "Services:     %s\n", familyList(block.SupportedServices.Families))
	fmt.Fprintf(w, "Secured:      %s\n", familyList(block.SecuredServices.Families))
	fmt.Fprintf(w, "KNX Secure:   %t\n", block.Secure())

	if block.IPConfig.Type != 0 {
		fmt.Fprintf(w, "IP:           %s/%s\n", block.IPConfig.IP, block.IPConfig.Mask)
	}

	if len(block.TunnellingInfo.Slots) > 0 {
		fmt.Fprintf(w, "Tunnels:\n")
		for _, slot := range block.TunnellingInfo.Slots {
			fmt.Fprintf(w, "  %-10s usable=%t\n", slot.Addr, slot.Usable())
		}
	}
}
