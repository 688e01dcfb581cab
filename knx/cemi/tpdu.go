// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// TPCI is the Transport Protocol Control Information.
type TPCI uint8

// These are usable TPCI values.
const (
	Connect    TPCI = 0b00 // 0
	Disconnect TPCI = 0b01 // 1
	Ack        TPCI = 0b10 // 2
	Nak        TPCI = 0b11 // 3
)

const (
	PrefixUserMessage uint8 = 0b1011 // 11
	PrefixEscape      uint8 = 0b1111 // 15
)

// APCI is the Application-layer Protocol Control Information.
type APCI uint16

// These are usable APCI values.
const (
	// Standard APCIs
	GroupValueRead         APCI = 0b0000000000
	GroupValueResponse     APCI = 0b0001000000
	GroupValueWrite        APCI = 0b0010000000
	IndividualAddrWrite    APCI = 0b0011000000
	IndividualAddrRequest  APCI = 0b0100000000
	IndividualAddrResponse APCI = 0b0101000000
	AdcRead                APCI = 0b0110000000
	AdcResponse            APCI = 0b0111000000
	MemoryRead             APCI = 0b1000000000
	MemoryResponse         APCI = 0b1001000000
	MemoryWrite            APCI = 0b1010000000
	MaskVersionRead        APCI = 0b1100000000
	MaskVersionResponse    APCI = 0b1101000000
	Restart                APCI = 0b1110000000

	// Extended APCIs
	SystemNetworkParameterRead       APCI = 0b0111001000
	SystemNetworkParameterResponse   APCI = 0b0111001001
	SystemNetworkParameterWrite      APCI = 0b0111001010
	PropertyExtValueRead             APCI = 0b0111001100
	PropertyExtValueResponse         APCI = 0b0111001101
	PropertyExtValueWriteCon         APCI = 0b0111001110
	PropertyExtValueWriteConRes      APCI = 0b0111001111
	PropertyExtValueWriteUnCon       APCI = 0b0111010000
	PropertyExtValueInfoReport       APCI = 0b0111010001
	PropertyExtDescriptionRead       APCI = 0b0111010010
	PropertyExtDescriptionResponse   APCI = 0b0111010011
	FunctionPropertyExtCommand       APCI = 0b0111010100
	FunctionPropertyExtStateRead     APCI = 0b0111010101
	FunctionPropertyExtStateResponse APCI = 0b0111010110
	MemoryExtendedWrite              APCI = 0b0111111011
	MemoryExtendedWriteResponse      APCI = 0b0111111100
	MemoryExtendedRead               APCI = 0b0111111101
	MemoryExtendedReadResponse       APCI = 0b0111111110

	// User Message APCIs
	UserMemoryRead                APCI = 0b1011000000
	UserMemoryResponse            APCI = 0b1011000001
	UserMemoryWrite               APCI = 0b1011000010
	UserMemoryBitWrite            APCI = 0b1011000100
	UserManufacturerInfoRead      APCI = 0b1011000101
	UserManufacturerInfoResponse  APCI = 0b1011000110
	FunctionPropertyCommand       APCI = 0b1011000111
	FunctionPropertyStateRead     APCI = 0b1011001000
	FunctionPropertyStateResponse APCI = 0b1011001001

	// More Extended APCIs
	FilterTableOpen                       APCI = 0b1111000000
	FilterTableRead                       APCI = 0b1111000001
	FilterTableResponse                   APCI = 0b1111000010
	FilterTableWrite                      APCI = 0b1111000011
	RouterMemoryRead                      APCI = 0b1111001000
	RouterMemoryResponse                  APCI = 0b1111001001
	RouterMemoryWrite                     APCI = 0b1111001010
	RouterStatusRead                      APCI = 0b1111001101
	RouterStatusResponse                  APCI = 0b1111001110
	RouterStatusWrite                     APCI = 0b1111001111
	MemoryBitWrite                        APCI = 0b1111010000
	AuthorizeRequest                      APCI = 0b1111010001
	AuthorizeResponse                     APCI = 0b1111010010
	KeyWrite                              APCI = 0b1111010011
	KeyResponse                           APCI = 0b1111010100
	PropertyValueRead                     APCI = 0b1111010101
	PropertyValueResponse                 APCI = 0b1111010110
	PropertyValueWrite                    APCI = 0b1111010111
	PropertyDescriptionRead               APCI = 0b1111011000
	PropertyDescriptionResponse           APCI = 0b1111011001
	NetworkParameterRead                  APCI = 0b1111011010
	NetworkParameterResponse              APCI = 0b1111011011
	IndividualAddressSerialNumberRead     APCI = 0b1111011100
	IndividualAddressSerialNumberResponse APCI = 0b1111011101
	IndividualAddressSerialNumberWrite    APCI = 0b1111011110
	DomainAddressWrite                    APCI = 0b1111100000
	DomainAddressRead                     APCI = 0b1111100001
	DomainAddressResponse                 APCI = 0b1111100010
	DomainAddressSelectiveRead            APCI = 0b1111100011
	NetworkParameterWrite                 APCI = 0b1111100100
	LinkRead                              APCI = 0b1111100101
	LinkResponse                          APCI = 0b1111100110
	LinkWrite                             APCI = 0b1111100111
	GroupPropValueRead                    APCI = 0b1111101000
	GroupPropValueResponse                APCI = 0b1111101001
	GroupPropValueWrite                   APCI = 0b1111101010
	GroupPropValueInfoReport              APCI = 0b1111101011
	DomainAddressSerialNumberRead         APCI = 0b1111101100
	DomainAddressSerialNumberResponse     APCI = 0b1111101101
	DomainAddressSerialNumberWrite        APCI = 0b1111101110
	FileStreamInforReport                 APCI = 0b1111110000

	// SecureService carries a KNX Data Secure APDU.
	SecureService APCI = 0b1111110001
)

// IsGroupCommand determines if the APCI indicates a group command.
func (apci APCI) IsGroupCommand() bool {
	return (apci >> 6) < 3
}

// IsStandardCommand checks if the APCI is a standard command, which uses only the upper four
// bits of the APCI and leaves the lower six bits for data.
func (apci APCI) IsStandardCommand() bool {
	return apci != UserMemoryRead && (apci&0x3F) == 0 && (apci>>6) < 15
}

// extendedCommands are the extended APCIs sharing the AdcResponse prefix.
var extendedCommands = map[APCI]bool{
	SystemNetworkParameterRead:       true,
	SystemNetworkParameterResponse:   true,
	SystemNetworkParameterWrite:      true,
	PropertyExtValueRead:             true,
	PropertyExtValueResponse:         true,
	PropertyExtValueWriteCon:         true,
	PropertyExtValueWriteConRes:      true,
	PropertyExtValueWriteUnCon:       true,
	PropertyExtValueInfoReport:       true,
	PropertyExtDescriptionRead:       true,
	PropertyExtDescriptionResponse:   true,
	FunctionPropertyExtCommand:       true,
	FunctionPropertyExtStateRead:     true,
	FunctionPropertyExtStateResponse: true,
	MemoryExtendedWrite:              true,
	MemoryExtendedWriteResponse:      true,
	MemoryExtendedRead:               true,
	MemoryExtendedReadResponse:       true,
}

// Action is the 4 bit composite made of the two TPCI bits and the two upper APCI bits.
type Action uint8

// These are the actions of the standard commands.
const (
	ActionGroupRead          = Action(GroupValueRead >> 6)
	ActionGroupResponse      = Action(GroupValueResponse >> 6)
	ActionGroupWrite         = Action(GroupValueWrite >> 6)
	ActionIndividualWrite    = Action(IndividualAddrWrite >> 6)
	ActionIndividualRead     = Action(IndividualAddrRequest >> 6)
	ActionIndividualResponse = Action(IndividualAddrResponse >> 6)
	ActionMemoryRead         = Action(MemoryRead >> 6)
	ActionMemoryResponse     = Action(MemoryResponse >> 6)
	ActionMemoryWrite        = Action(MemoryWrite >> 6)
	ActionUserMessage        = Action(PrefixUserMessage)
	ActionExtended           = Action(PrefixEscape)
)

// maxShortValue is the largest payload that fits into the APCI octet.
const maxShortValue uint8 = 0x3F

// An AppData contains application data in a transport unit. This is the network layer PDU of
// a telegram: TPCI, APCI and the optional data block.
//
// A Data payload of exactly one byte no larger than 0x3F is folded into the lower six bits of the
// APCI octet, unless Long is set. Long is needed for 8 bit values which happen to be small.
type AppData struct {
	Numbered  bool
	SeqNumber uint8
	Command   APCI
	Data      []byte
	Long      bool
}

// Action returns the 4 bit composite of the command.
func (app *AppData) Action() Action {
	return Action(app.Command >> 6)
}

// SetAction replaces the command by the standard command of the given action.
func (app *AppData) SetAction(action Action) {
	app.Command = APCI(action&15) << 6
}

// folded reports whether the payload travels in the APCI octet.
func (app *AppData) folded() bool {
	if !app.Command.IsStandardCommand() || app.Long {
		return false
	}
	return len(app.Data) == 0 || (len(app.Data) == 1 && app.Data[0] <= maxShortValue)
}

// Size retrieves the packed size.
func (app *AppData) Size() uint {
	if app.folded() {
		return 3
	}
	return 3 + uint(len(app.Data))
}

// Pack into a transport data unit including its leading length byte.
func (app *AppData) Pack(buffer []byte) {
	buffer[0] = byte(app.Size() - 2)
	buffer[1] = 0

	if app.Numbered {
		buffer[1] |= 1<<6 | (app.SeqNumber&15)<<2
	}

	// Set the lowest two bits of buffer[1] to the highest
	// two bits of the 10 bit APCI.
	buffer[1] |= byte(app.Command>>8) & 3

	switch {
	case app.folded():
		buffer[2] = byte((app.Command>>6)&3) << 6
		if len(app.Data) == 1 {
			buffer[2] |= app.Data[0] & maxShortValue
		}

	case app.Command.IsStandardCommand():
		buffer[2] = byte((app.Command>>6)&3) << 6
		copy(buffer[3:], app.Data)

	default:
		// Non-standard commands use the entire first data
		// byte to encode the command.
		buffer[2] = byte(app.Command & 0xFF)
		copy(buffer[3:], app.Data)
	}
}

// APDU returns the packed unit without its leading length byte: the TPCI/APCI octets followed
// by the data.
func (app *AppData) APDU() []byte {
	buffer := make([]byte, app.Size())
	app.Pack(buffer)
	return buffer[1:]
}

// UnpackAppData parses an APDU as returned by AppData.APDU.
func UnpackAppData(apdu []byte) (*AppData, error) {
	if len(apdu) < 2 {
		return nil, errTruncated("application data", 2, len(apdu))
	}

	if len(apdu) > 256 {
		return nil, &util.InvalidFieldError{Field: "application data length", Value: len(apdu)}
	}

	data := make([]byte, len(apdu)+1)
	data[0] = byte(len(apdu) - 1)
	copy(data[1:], apdu)

	var unit TransportUnit
	if _, err := unpackTransportUnit(data, &unit); err != nil {
		return nil, err
	}

	app, ok := unit.(*AppData)
	if !ok {
		return nil, &util.InvalidFieldError{Field: "application data", Value: fmt.Sprintf("%T", unit)}
	}

	return app, nil
}

// A ControlData encodes control information in a transport unit.
type ControlData struct {
	Numbered  bool
	SeqNumber uint8
	Command   uint8
}

// Size retrieves the packed size.
func (ControlData) Size() uint {
	return 2
}

// Pack into a transport data unit including its leading length byte.
func (control *ControlData) Pack(buffer []byte) {
	buffer[0] = 0
	buffer[1] = 1<<7 | (control.Command & 3)

	if control.Numbered {
		buffer[1] |= 1<<6 | (control.SeqNumber&15)<<2
	}
}

// A TransportUnit is responsible to transport data.
type TransportUnit interface {
	util.Packable
}

// unpackTransportUnit parses the given data in order to extract the transport unit that it encodes.
func unpackTransportUnit(data []byte, unit *TransportUnit) (uint, error) {
	if len(data) < 2 {
		return 0, errTruncated("transport unit", 2, len(data))
	}

	// Does unit contain control information?
	if (data[1] & (1 << 7)) == 1<<7 {
		numbered := (data[1] & (1 << 6)) == 1<<6
		seqNumber := (data[1] >> 2) & 15
		command := data[1] & 3

		switch {
		case command == uint8(Connect) && !numbered:
			*unit = TConnect()
		case command == uint8(Disconnect) && !numbered:
			*unit = TDisconnect()
		case command == uint8(Ack) && numbered:
			*unit = TAck(seqNumber)
		case command == uint8(Nak) && numbered:
			*unit = TNak(seqNumber)
		default:
			*unit = &ControlData{
				Numbered:  numbered,
				SeqNumber: seqNumber,
				Command:   command,
			}
		}

		return 2, nil
	}

	dataLength := int(data[0])

	if dataLength < 1 || len(data) < dataLength+2 {
		return 0, errTruncated("application data", dataLength+2, len(data))
	}

	app := &AppData{
		Numbered:  (data[1] & (1 << 6)) == 1<<6,
		SeqNumber: (data[1] >> 2) & 15,
	}

	p := (data[1]&3)<<2 | data[2]>>6
	full := APCI(data[1]&3)<<8 | APCI(data[2])

	switch {
	case p == PrefixUserMessage || p == PrefixEscape:
		app.Command = full
		if dataLength > 1 {
			app.Data = make([]byte, dataLength-1)
			copy(app.Data, data[3:])
		}

	case dataLength == 1 && extendedCommands[full]:
		app.Command = full

	case dataLength == 1:
		app.Command = APCI(uint16(p) << 6)
		value := data[2] & maxShortValue
		if app.Command != GroupValueRead || value != 0 {
			app.Data = []byte{value}
		}

	default:
		// The six lower bits are part of the command if they are in use
		// while a data block follows.
		if data[2]&maxShortValue != 0 {
			app.Command = full
		} else {
			app.Command = APCI(uint16(p) << 6)
		}

		app.Data = make([]byte, dataLength-1)
		copy(app.Data, data[3:])
		app.Long = len(app.Data) == 1 && app.Data[0] <= maxShortValue
	}

	*unit = app

	return uint(dataLength) + 2, nil
}
