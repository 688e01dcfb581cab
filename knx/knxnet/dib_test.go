// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"errors"
	"net"
	"testing"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeviceInfo() DeviceInformationBlock {
	return DeviceInformationBlock{
		Type:                    DescriptionTypeDeviceInfo,
		Medium:                  KNXMediumTP1,
		Status:                  1,
		Source:                  0x1100,
		ProjectIdentifier:       0x0011,
		SerialNumber:            DeviceSerialNumber{0x00, 0xfa, 0x12, 0x34, 0x56, 0x78},
		RoutingMulticastAddress: Address{224, 0, 23, 12},
		HardwareAddr:            net.HardwareAddr{0x00, 0x24, 0x6d, 0x01, 0x02, 0x03},
		FriendlyName:            "Gateway Büro",
	}
}

func TestDescriptionResRoundTrip(t *testing.T) {
	res := &DescriptionRes{DescriptionBlock{
		DeviceHardware: testDeviceInfo(),
		SupportedServices: SupportedServicesDIB{ServiceFamilies{
			Type: DescriptionTypeSupportedServiceFamilies,
			Families: []ServiceFamily{
				{ServiceFamilyTypeIPCore, 2},
				{ServiceFamilyTypeIPTunnelling, 2},
				{ServiceFamilyTypeIPSecure, 1},
			},
		}},
		SecuredServices: SecuredServicesDIB{ServiceFamilies{
			Type:     DescriptionTypeSecuredServiceFamilies,
			Families: []ServiceFamily{{ServiceFamilyTypeIPTunnelling, 1}},
		}},
		IPConfig: IPConfigDIB{
			Type: DescriptionTypeIPConfig,
			IP:   Address{192, 168, 1, 10},
			Mask: Address{255, 255, 255, 0},
		},
		UnknownBlocks: []UnknownDescriptionBlock{{Type: 0x42, Data: []byte{1, 2}}},
	}}

	frame := AllocAndPack(res)
	parsed := unpackService(t, frame).(*DescriptionRes)
	assert.Equal(t, res, parsed)

	assert.True(t, parsed.Secure())
	assert.True(t, parsed.DeviceHardware.Status.ProgMode())

	version, ok := parsed.SupportedServices.Version(ServiceFamilyTypeIPTunnelling)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), version)
	assert.False(t, parsed.SupportedServices.Contains(ServiceFamilyTypeIPRouting))
}

func TestDeviceInfoLayout(t *testing.T) {
	dib := testDeviceInfo()
	buffer := util.AllocAndPack(&dib)

	require.Len(t, buffer, 54)
	assert.Equal(t, []byte{54, 0x01, 0x02, 0x01, 0x11, 0x00}, buffer[:6])
	assert.Equal(t, []byte{0x00, 0xfa, 0x12, 0x34, 0x56, 0x78}, buffer[8:14])
	assert.Equal(t, byte(0xfc), buffer[24+9])
	assert.Equal(t, byte(0), buffer[53])
}

func TestDIBLengthMismatch(t *testing.T) {
	dib := IPConfigDIB{Type: DescriptionTypeIPConfig}
	buffer := util.AllocAndPack(&dib)
	buffer[0] = 15

	var parsed IPConfigDIB
	_, err := parsed.Unpack(buffer)
	var invalid *util.InvalidFieldError
	assert.True(t, errors.As(err, &invalid))

	buffer[0] = 17
	_, err = parsed.Unpack(buffer)
	assert.True(t, errors.As(err, &invalid))

	families := SupportedServicesDIB{ServiceFamilies{Families: []ServiceFamily{{ServiceFamilyTypeIPCore, 1}}}}
	buffer = util.AllocAndPack(&families)
	buffer[0] = 10

	var truncated *util.TruncatedBufferError
	_, err = families.Unpack(buffer)
	assert.True(t, errors.As(err, &truncated))
}

func TestDescriptionBlockMissingDeviceInfo(t *testing.T) {
	families := SupportedServicesDIB{ServiceFamilies{Type: DescriptionTypeSupportedServiceFamilies}}

	var block DescriptionBlock
	_, err := block.Unpack(util.AllocAndPack(&families))
	assert.Error(t, err)
}

func TestSearchReqExtRoundTrip(t *testing.T) {
	req, err := NewSearchReqExt(nil,
		NewSelectProgMode(false),
		NewSelectMACAddr(true, [6]byte{1, 2, 3, 4, 5, 6}),
		NewSelectSrvSRP(true, ServiceFamilyTypeIPSecure, 1),
		NewRequestDIBs(false, DescriptionTypeDeviceInfo, DescriptionTypeSupportedServiceFamilies, DescriptionTypeSecuredServiceFamilies),
	)
	require.NoError(t, err)

	frame := AllocAndPack(req)
	assert.Equal(t, []byte{0x02, 0x01}, frame[14:16])
	assert.Equal(t, []byte{0x04, 0x83, 0x09, 0x01}, frame[24:28])
	assert.Equal(t, []byte{0x06, 0x04, 0x01, 0x02, 0x06, 0x00}, frame[28:34])

	assert.Equal(t, req, unpackService(t, frame))
}

func TestSearchReqExtSkipsUnknownParameter(t *testing.T) {
	req, err := NewSearchReqExt(nil, NewSelectProgMode(true))
	require.NoError(t, err)

	frame := AllocAndPack(req)
	frame = append(frame, 0x03, 0x7e, 0x00)
	frame[5] += 3

	var srv Service
	n, err := Unpack(frame, &srv)
	require.NoError(t, err)
	assert.Equal(t, uint(len(frame)), n)
	assert.Equal(t, req.Parameters, srv.(*SearchReqExt).Parameters)
}

func TestSearchResExtRoundTrip(t *testing.T) {
	info := testDeviceInfo()
	res := &SearchResExt{
		Control: HostInfo{UDP4, Address{192, 168, 1, 10}, 3671},
		DIBs: []DIB{
			&info,
			&TunnellingInfoDIB{
				Type:     DescriptionTypeTunnellingInfo,
				APDUSize: 254,
				Slots:    []TunnellingSlot{{Addr: 0x11f1, Status: 0b101}, {Addr: 0x11f2, Status: 0b100}},
			},
			&ExtendedDeviceInfoDIB{Type: DescriptionTypeExtendedDeviceInfo, MediumStatus: 1, APDUSize: 254, DeviceDescriptor: 0x091a},
			&ManufacturerDataDIB{Type: DescriptionTypeManufacturerData, ID: 0x00c5, Data: []byte{0xaa}},
			&KNXAddrsDIB{Type: DescriptionTypeKNXAddresses, KNXAddrs: []cemi.IndividualAddr{0x1100, 0x11ff}},
		},
	}

	parsed := unpackService(t, AllocAndPack(res)).(*SearchResExt)
	assert.Equal(t, res, parsed)

	slots := parsed.DIBs[1].(*TunnellingInfoDIB).Slots
	assert.True(t, slots[0].Usable())
	assert.False(t, slots[1].Usable())
}
