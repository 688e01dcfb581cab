// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"net"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

const friendlyNameMaxLen = 30

// DescriptionType describes the type of a DeviceInformationBlock.
type DescriptionType uint8

const (
	// DescriptionTypeDeviceInfo describes Device information e.g. KNX medium.
	DescriptionTypeDeviceInfo DescriptionType = 0x01

	// DescriptionTypeSupportedServiceFamilies describes Service families supported by the device.
	DescriptionTypeSupportedServiceFamilies DescriptionType = 0x02

	// DescriptionTypeIPConfig describes IP configuration.
	DescriptionTypeIPConfig DescriptionType = 0x03

	// DescriptionTypeIPCurrentConfig describes current IP configuration.
	DescriptionTypeIPCurrentConfig DescriptionType = 0x04

	// DescriptionTypeKNXAddresses describes KNX addresses.
	DescriptionTypeKNXAddresses DescriptionType = 0x05

	// DescriptionTypeSecuredServiceFamilies describes Service families that use KNX Secure.
	DescriptionTypeSecuredServiceFamilies DescriptionType = 0x06

	// DescriptionTypeTunnellingInfo describes Tunnelling information.
	DescriptionTypeTunnellingInfo DescriptionType = 0x07

	// DescriptionTypeExtendedDeviceInfo describes extended device information.
	DescriptionTypeExtendedDeviceInfo DescriptionType = 0x08

	// DescriptionTypeManufacturerData describes a DIB structure for further data defined by device manufacturer.
	DescriptionTypeManufacturerData DescriptionType = 0xfe
)

// KNXMedium describes the KNX medium type.
type KNXMedium uint8

const (
	// KNXMediumTP1 is the TP1 medium
	KNXMediumTP1 KNXMedium = 0x02
	// KNXMediumPL110 is the PL110 medium
	KNXMediumPL110 KNXMedium = 0x04
	// KNXMediumRF is the RF medium
	KNXMediumRF KNXMedium = 0x10
	// KNXMediumIP is the IP medium
	KNXMediumIP KNXMedium = 0x20
)

// DIB is a device information block.
type DIB interface {
	util.Packable
	util.Unpackable
}

// unpackDIBHeader reads the length and type octets of a DIB. The length must fit into data and,
// unless fixed is zero, equal the fixed size of the structure. It returns the DIB body.
func unpackDIBHeader(structure string, data []byte, ty *DescriptionType, fixed uint) ([]byte, error) {
	var length uint8
	if _, err := util.UnpackSome(data, &length, (*uint8)(ty)); err != nil {
		return nil, err
	}

	if length < 2 || (fixed > 0 && uint(length) != fixed) {
		return nil, &util.InvalidFieldError{Field: structure + " length", Value: length}
	}

	if err := util.CheckLength(structure, data, int(length)); err != nil {
		return nil, err
	}

	return data[2:length], nil
}

// DeviceStatus describes the device status.
type DeviceStatus uint8

// ProgMode reports whether the device is in programming mode.
func (status DeviceStatus) ProgMode() bool {
	return status&1 == 1
}

// DeviceSerialNumber is the KNX serial number of a device.
type DeviceSerialNumber [6]byte

// DeviceInformationBlock contains information about a device.
type DeviceInformationBlock struct {
	Type                    DescriptionType
	Medium                  KNXMedium
	Status                  DeviceStatus
	Source                  cemi.IndividualAddr
	ProjectIdentifier       uint16
	SerialNumber            DeviceSerialNumber
	RoutingMulticastAddress Address
	HardwareAddr            net.HardwareAddr
	FriendlyName            string
}

// Size returns the packed size.
func (DeviceInformationBlock) Size() uint {
	return 54
}

// Pack assembles the device information structure in the given buffer.
func (dib *DeviceInformationBlock) Pack(buffer []byte) {
	hwAddr := make([]byte, 6)
	copy(hwAddr, dib.HardwareAddr)

	util.PackSome(
		buffer,
		uint8(dib.Size()), uint8(DescriptionTypeDeviceInfo),
		uint8(dib.Medium), uint8(dib.Status),
		uint16(dib.Source),
		dib.ProjectIdentifier,
		dib.SerialNumber[:],
		dib.RoutingMulticastAddress[:],
		hwAddr,
	)
	util.PackString(buffer[24:], friendlyNameMaxLen, dib.FriendlyName)
}

// Unpack parses the given data in order to initialize the structure.
func (dib *DeviceInformationBlock) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("device info", data, &dib.Type, dib.Size())
	if err != nil {
		return 0, err
	}

	dib.HardwareAddr = make(net.HardwareAddr, 6)
	n, err := util.UnpackSome(
		body,
		(*uint8)(&dib.Medium), (*uint8)(&dib.Status),
		(*uint16)(&dib.Source),
		&dib.ProjectIdentifier,
		dib.SerialNumber[:],
		dib.RoutingMulticastAddress[:],
		[]byte(dib.HardwareAddr),
	)
	if err != nil {
		return 0, err
	}

	if _, err = util.UnpackString(body[n:], friendlyNameMaxLen, &dib.FriendlyName); err != nil {
		return 0, err
	}

	return dib.Size(), nil
}

// ServiceFamilyType describes a KNXnet service family type.
type ServiceFamilyType uint8

const (
	// ServiceFamilyTypeIPCore is the KNXnet/IP Core family type.
	ServiceFamilyTypeIPCore ServiceFamilyType = 0x02
	// ServiceFamilyTypeIPDeviceManagement is the KNXnet/IP Device Management family type.
	ServiceFamilyTypeIPDeviceManagement ServiceFamilyType = 0x03
	// ServiceFamilyTypeIPTunnelling is the KNXnet/IP Tunnelling family type.
	ServiceFamilyTypeIPTunnelling ServiceFamilyType = 0x04
	// ServiceFamilyTypeIPRouting is the KNXnet/IP Routing family type.
	ServiceFamilyTypeIPRouting ServiceFamilyType = 0x05
	// ServiceFamilyTypeIPRemoteLogging is the KNXnet/IP Remote Logging family type.
	ServiceFamilyTypeIPRemoteLogging ServiceFamilyType = 0x06
	// ServiceFamilyTypeIPRemoteConfigurationAndDiagnosis is the KNXnet/IP Remote Configuration and Diagnosis family type.
	ServiceFamilyTypeIPRemoteConfigurationAndDiagnosis ServiceFamilyType = 0x07
	// ServiceFamilyTypeIPObjectServer is the KNXnet/IP Object Server family type.
	ServiceFamilyTypeIPObjectServer ServiceFamilyType = 0x08
	// ServiceFamilyTypeIPSecure is the KNXnet/IP Secure family type.
	ServiceFamilyTypeIPSecure ServiceFamilyType = 0x09
)

// ServiceFamily describes a KNXnet service supported by a device.
type ServiceFamily struct {
	Type    ServiceFamilyType
	Version uint8
}

// ServiceFamilies is a list of service families as found in the supported and secured
// service family DIBs.
type ServiceFamilies struct {
	Type     DescriptionType
	Families []ServiceFamily
}

// Contains reports whether the family of the given type is listed.
func (sf *ServiceFamilies) Contains(ty ServiceFamilyType) bool {
	_, ok := sf.Version(ty)
	return ok
}

// Version returns the version of the family of the given type.
func (sf *ServiceFamilies) Version(ty ServiceFamilyType) (uint8, bool) {
	for _, f := range sf.Families {
		if f.Type == ty {
			return f.Version, true
		}
	}
	return 0, false
}

// Size returns the packed size.
func (sf ServiceFamilies) Size() uint {
	return uint(2 + 2*len(sf.Families))
}

// Pack assembles the service families structure in the given buffer.
func (sf *ServiceFamilies) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(sf.Size()), uint8(sf.Type))

	for i, f := range sf.Families {
		util.PackSome(buffer[2+2*i:], uint8(f.Type), f.Version)
	}
}

// Unpack parses the given data in order to initialize the structure.
func (sf *ServiceFamilies) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("service families", data, &sf.Type, 0)
	if err != nil {
		return 0, err
	}

	if len(body)%2 != 0 {
		return 0, &util.InvalidFieldError{Field: "service families length", Value: len(body) + 2}
	}

	sf.Families = make([]ServiceFamily, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		sf.Families = append(sf.Families, ServiceFamily{Type: ServiceFamilyType(body[i]), Version: body[i+1]})
	}

	return uint(len(body) + 2), nil
}

// SupportedServicesDIB contains information about the supported services of a device.
type SupportedServicesDIB struct {
	ServiceFamilies
}

// SecuredServicesDIB contains information about the services that use KNX Secure.
type SecuredServicesDIB struct {
	ServiceFamilies
}

// IPConfigDIB contains information about the IP configuration of a device.
type IPConfigDIB struct {
	Type           DescriptionType
	IP             Address
	Mask           Address
	Gateway        Address
	IPCapabilities uint8
	IPAssignment   uint8
}

// Size returns the packed size.
func (IPConfigDIB) Size() uint {
	return 16
}

// Pack assembles the IP configuration structure in the given buffer.
func (idib *IPConfigDIB) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint8(idib.Size()), uint8(DescriptionTypeIPConfig),
		idib.IP[:], idib.Mask[:], idib.Gateway[:],
		idib.IPCapabilities, idib.IPAssignment,
	)
}

// Unpack parses the given data in order to initialize the structure.
func (idib *IPConfigDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("IP config", data, &idib.Type, idib.Size())
	if err != nil {
		return 0, err
	}

	if _, err = util.UnpackSome(
		body,
		idib.IP[:], idib.Mask[:], idib.Gateway[:],
		&idib.IPCapabilities, &idib.IPAssignment,
	); err != nil {
		return 0, err
	}

	return idib.Size(), nil
}

// IPCurrentConfigDIB contains information about the current IP configuration of a device.
type IPCurrentConfigDIB struct {
	Type         DescriptionType
	IP           Address
	Mask         Address
	Gateway      Address
	DHCPServer   Address
	IPAssignment uint8
}

// Size returns the packed size.
func (IPCurrentConfigDIB) Size() uint {
	return 20
}

// Pack assembles the current IP configuration structure in the given buffer.
func (idib *IPCurrentConfigDIB) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint8(idib.Size()), uint8(DescriptionTypeIPCurrentConfig),
		idib.IP[:], idib.Mask[:],
		idib.Gateway[:], idib.DHCPServer[:],
		idib.IPAssignment, uint8(0),
	)
}

// Unpack parses the given data in order to initialize the structure.
func (idib *IPCurrentConfigDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("IP current config", data, &idib.Type, idib.Size())
	if err != nil {
		return 0, err
	}

	if _, err = util.UnpackSome(
		body,
		idib.IP[:], idib.Mask[:],
		idib.Gateway[:], idib.DHCPServer[:],
		&idib.IPAssignment,
	); err != nil {
		return 0, err
	}

	return idib.Size(), nil
}

// KNXAddrsDIB contains the individual KNX addresses of a device.
type KNXAddrsDIB struct {
	Type     DescriptionType
	KNXAddrs []cemi.IndividualAddr
}

// Size returns the packed size.
func (kdib KNXAddrsDIB) Size() uint {
	return uint(2 + len(kdib.KNXAddrs)*2)
}

// Pack assembles the KNX addresses structure in the given buffer.
func (kdib *KNXAddrsDIB) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(kdib.Size()), uint8(DescriptionTypeKNXAddresses))

	for i, addr := range kdib.KNXAddrs {
		util.PackSome(buffer[2+2*i:], uint16(addr))
	}
}

// Unpack parses the given data in order to initialize the structure.
func (kdib *KNXAddrsDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("KNX addresses", data, &kdib.Type, 0)
	if err != nil {
		return 0, err
	}

	if len(body)%2 != 0 {
		return 0, &util.InvalidFieldError{Field: "KNX addresses length", Value: len(body) + 2}
	}

	kdib.KNXAddrs = make([]cemi.IndividualAddr, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		kdib.KNXAddrs = append(kdib.KNXAddrs, cemi.IndividualAddr(uint16(body[i])<<8|uint16(body[i+1])))
	}

	return uint(len(body) + 2), nil
}

// TunnellingSlot describes a tunnelling slot of the TunnellingInfoDIB.
type TunnellingSlot struct {
	Addr   cemi.IndividualAddr
	Status uint16
}

// Usable reports whether the slot is usable (bit 2) and free (bit 0).
func (ts TunnellingSlot) Usable() bool {
	return ts.Status&0b101 == 0b101
}

// TunnellingInfoDIB contains information about the tunnelling capabilities of a device.
type TunnellingInfoDIB struct {
	Type     DescriptionType
	APDUSize uint16
	Slots    []TunnellingSlot
}

// Size returns the packed size.
func (tdib TunnellingInfoDIB) Size() uint {
	return uint(4 + len(tdib.Slots)*4)
}

// Pack assembles the tunnelling information structure in the given buffer.
func (tdib *TunnellingInfoDIB) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(tdib.Size()), uint8(DescriptionTypeTunnellingInfo), tdib.APDUSize)

	for i, s := range tdib.Slots {
		util.PackSome(buffer[4+4*i:], uint16(s.Addr), s.Status)
	}
}

// Unpack parses the given data in order to initialize the structure.
func (tdib *TunnellingInfoDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("tunnelling info", data, &tdib.Type, 0)
	if err != nil {
		return 0, err
	}

	if len(body) < 2 || len(body)%4 != 2 {
		return 0, &util.InvalidFieldError{Field: "tunnelling info length", Value: len(body) + 2}
	}

	tdib.APDUSize = uint16(body[0])<<8 | uint16(body[1])

	tdib.Slots = make([]TunnellingSlot, 0, len(body)/4)
	for i := 2; i < len(body); i += 4 {
		var s TunnellingSlot
		if _, err := util.UnpackSome(body[i:], (*uint16)(&s.Addr), &s.Status); err != nil {
			return 0, err
		}

		if s.Addr == 0 {
			return 0, &util.InvalidFieldError{Field: "tunnelling slot address", Value: s.Addr}
		}

		tdib.Slots = append(tdib.Slots, s)
	}

	return uint(len(body) + 2), nil
}

// ExtendedDeviceInfoDIB contains extended device information.
type ExtendedDeviceInfoDIB struct {
	Type             DescriptionType
	MediumStatus     uint8
	APDUSize         uint16
	DeviceDescriptor uint16
}

// Size returns the packed size.
func (ExtendedDeviceInfoDIB) Size() uint {
	return 8
}

// Pack assembles the extended device information structure in the given buffer.
func (edib *ExtendedDeviceInfoDIB) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint8(edib.Size()), uint8(DescriptionTypeExtendedDeviceInfo),
		edib.MediumStatus, uint8(0),
		edib.APDUSize,
		edib.DeviceDescriptor,
	)
}

// Unpack parses the given data in order to initialize the structure.
func (edib *ExtendedDeviceInfoDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("extended device info", data, &edib.Type, edib.Size())
	if err != nil {
		return 0, err
	}

	var reserved uint8
	if _, err = util.UnpackSome(
		body,
		&edib.MediumStatus, &reserved,
		&edib.APDUSize,
		&edib.DeviceDescriptor,
	); err != nil {
		return 0, err
	}

	return edib.Size(), nil
}

// ManufacturerDataDIB contains manufacturer-specific data.
type ManufacturerDataDIB struct {
	Type DescriptionType
	ID   uint16
	Data []byte
}

// Size returns the packed size.
func (mdib ManufacturerDataDIB) Size() uint {
	return uint(4 + len(mdib.Data))
}

// Pack assembles the manufacturer data structure in the given buffer.
func (mdib *ManufacturerDataDIB) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(mdib.Size()), uint8(DescriptionTypeManufacturerData), mdib.ID, mdib.Data)
}

// Unpack parses the given data in order to initialize the structure.
func (mdib *ManufacturerDataDIB) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("manufacturer data", data, &mdib.Type, 0)
	if err != nil {
		return 0, err
	}

	if len(body) < 2 {
		return 0, &util.InvalidFieldError{Field: "manufacturer data length", Value: len(body) + 2}
	}

	mdib.ID = uint16(body[0])<<8 | uint16(body[1])
	mdib.Data = append([]byte(nil), body[2:]...)

	return uint(len(body) + 2), nil
}

// UnknownDescriptionBlock keeps a DIB whose type is not understood.
type UnknownDescriptionBlock struct {
	Type DescriptionType
	Data []byte
}

// Size returns the packed size.
func (u UnknownDescriptionBlock) Size() uint {
	return uint(2 + len(u.Data))
}

// Pack assembles the block in the given buffer.
func (u *UnknownDescriptionBlock) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(u.Size()), uint8(u.Type), u.Data)
}

// Unpack parses the given data in order to initialize the structure.
func (u *UnknownDescriptionBlock) Unpack(data []byte) (uint, error) {
	body, err := unpackDIBHeader("description block", data, &u.Type, 0)
	if err != nil {
		return 0, err
	}

	u.Data = append([]byte(nil), body...)
	return uint(len(body) + 2), nil
}

// newDIB returns an empty DIB for the given type.
func newDIB(ty DescriptionType) DIB {
	switch ty {
	case DescriptionTypeDeviceInfo:
		return &DeviceInformationBlock{}
	case DescriptionTypeSupportedServiceFamilies:
		return &SupportedServicesDIB{}
	case DescriptionTypeIPConfig:
		return &IPConfigDIB{}
	case DescriptionTypeIPCurrentConfig:
		return &IPCurrentConfigDIB{}
	case DescriptionTypeKNXAddresses:
		return &KNXAddrsDIB{}
	case DescriptionTypeSecuredServiceFamilies:
		return &SecuredServicesDIB{}
	case DescriptionTypeTunnellingInfo:
		return &TunnellingInfoDIB{}
	case DescriptionTypeExtendedDeviceInfo:
		return &ExtendedDeviceInfoDIB{}
	case DescriptionTypeManufacturerData:
		return &ManufacturerDataDIB{}
	}
	return &UnknownDescriptionBlock{}
}

// unpackDIBs parses consecutive DIBs until data is exhausted.
func unpackDIBs(data []byte) ([]DIB, error) {
	var dibs []DIB

	for n := 0; n < len(data); {
		if err := util.CheckLength("description block", data[n:], 2); err != nil {
			return nil, err
		}

		dib := newDIB(DescriptionType(data[n+1]))
		if u, ok := dib.(*UnknownDescriptionBlock); ok {
			util.Log(u, "Found unsupported DIB with code: %#02x", data[n+1])
		}

		m, err := dib.Unpack(data[n:])
		if err != nil {
			return nil, err
		}

		dibs = append(dibs, dib)
		n += int(m)
	}

	return dibs, nil
}

// DescriptionBlock is returned by a Search Request, a Description Request or a Search Request
// Extended. DIBs other than the Device Information DIB and the Supported Service Families DIB
// are optional: absent ones keep a zero Type.
type DescriptionBlock struct {
	DeviceHardware     DeviceInformationBlock
	SupportedServices  SupportedServicesDIB
	IPConfig           IPConfigDIB
	IPCurrentConfig    IPCurrentConfigDIB
	KNXAddrs           KNXAddrsDIB
	SecuredServices    SecuredServicesDIB
	TunnellingInfo     TunnellingInfoDIB
	ExtendedDeviceInfo ExtendedDeviceInfoDIB
	ManufacturerData   ManufacturerDataDIB
	UnknownBlocks      []UnknownDescriptionBlock
}

// Secure reports whether the device announces KNX Secure for tunnelling.
func (di *DescriptionBlock) Secure() bool {
	return di.SecuredServices.Contains(ServiceFamilyTypeIPTunnelling) ||
		di.SupportedServices.Contains(ServiceFamilyTypeIPSecure)
}

// dibs lists the present blocks in their canonical order.
func (di *DescriptionBlock) dibs() []DIB {
	dibs := []DIB{&di.DeviceHardware, &di.SupportedServices}

	optional := []struct {
		ty  DescriptionType
		dib DIB
	}{
		{di.IPConfig.Type, &di.IPConfig},
		{di.IPCurrentConfig.Type, &di.IPCurrentConfig},
		{di.KNXAddrs.Type, &di.KNXAddrs},
		{di.SecuredServices.Type, &di.SecuredServices},
		{di.TunnellingInfo.Type, &di.TunnellingInfo},
		{di.ExtendedDeviceInfo.Type, &di.ExtendedDeviceInfo},
		{di.ManufacturerData.Type, &di.ManufacturerData},
	}
	for _, o := range optional {
		if o.ty != 0 {
			dibs = append(dibs, o.dib)
		}
	}

	for i := range di.UnknownBlocks {
		dibs = append(dibs, &di.UnknownBlocks[i])
	}

	return dibs
}

// Size returns the packed size.
func (di *DescriptionBlock) Size() uint {
	size := uint(0)
	for _, dib := range di.dibs() {
		size += dib.Size()
	}
	return size
}

// Pack assembles the present DIBs in the given buffer.
func (di *DescriptionBlock) Pack(buffer []byte) {
	di.SupportedServices.Type = DescriptionTypeSupportedServiceFamilies
	if di.SecuredServices.Type != 0 {
		di.SecuredServices.Type = DescriptionTypeSecuredServiceFamilies
	}

	offset := uint(0)
	for _, dib := range di.dibs() {
		dib.Pack(buffer[offset:])
		offset += dib.Size()
	}
}

// Unpack parses the given service payload in order to initialize the Description Block.
// It copes with DIBs out of sequence and with unknown DIBs.
func (di *DescriptionBlock) Unpack(data []byte) (uint, error) {
	dibs, err := unpackDIBs(data)
	if err != nil {
		return 0, err
	}

	for _, dib := range dibs {
		switch dib := dib.(type) {
		case *DeviceInformationBlock:
			di.DeviceHardware = *dib
		case *SupportedServicesDIB:
			di.SupportedServices = *dib
		case *IPConfigDIB:
			di.IPConfig = *dib
		case *IPCurrentConfigDIB:
			di.IPCurrentConfig = *dib
		case *KNXAddrsDIB:
			di.KNXAddrs = *dib
		case *SecuredServicesDIB:
			di.SecuredServices = *dib
		case *TunnellingInfoDIB:
			di.TunnellingInfo = *dib
		case *ExtendedDeviceInfoDIB:
			di.ExtendedDeviceInfo = *dib
		case *ManufacturerDataDIB:
			di.ManufacturerData = *dib
		case *UnknownDescriptionBlock:
			di.UnknownBlocks = append(di.UnknownBlocks, *dib)
		}
	}

	if di.DeviceHardware.Type != DescriptionTypeDeviceInfo {
		return 0, &util.InvalidFieldError{Field: "description block", Value: "missing device info"}
	}

	return uint(len(data)), nil
}
