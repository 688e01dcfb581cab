// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

// InfoType identifies an additional information item.
type InfoType uint8

// These are known additional information types.
const (
	InfoTypePLMedium              InfoType = 0x01
	InfoTypeRFMedium              InfoType = 0x02
	InfoTypeBusmonitorStatus      InfoType = 0x03
	InfoTypeTimestampRelative     InfoType = 0x04
	InfoTypeTimeDelayUntilSending InfoType = 0x05
	InfoTypeExtendedTimestamp     InfoType = 0x06
	InfoTypeBiBat                 InfoType = 0x07
	InfoTypeRFMulti               InfoType = 0x08
	InfoTypePreambleAndPostamble  InfoType = 0x09
	InfoTypeRFFastAck             InfoType = 0x0A
	InfoTypeManufacturerSpecific  InfoType = 0xFE
)

// InfoItem is a single entry of the additional information block.
type InfoItem struct {
	Type InfoType
	Data []byte
}

// AdditionalInfo is the additional information block that precedes the service information.
type AdditionalInfo []InfoItem

// Size returns the packed size including the leading length byte.
func (info AdditionalInfo) Size() uint {
	size := uint(1)
	for _, item := range info {
		size += 2 + uint(len(item.Data))
	}
	return size
}

// Pack assembles the additional information block in the given buffer.
func (info AdditionalInfo) Pack(buffer []byte) {
	buffer[0] = byte(info.Size() - 1)

	offset := 1
	for _, item := range info {
		buffer[offset] = byte(item.Type)
		buffer[offset+1] = byte(len(item.Data))
		offset += 2 + copy(buffer[offset+2:], item.Data)
	}
}

// Unpack parses the additional information block.
func (info *AdditionalInfo) Unpack(data []byte) (uint, error) {
	if len(data) < 1 {
		return 0, errTruncated("additional info", 1, 0)
	}

	length := int(data[0])
	if len(data) < 1+length {
		return 0, errTruncated("additional info", 1+length, len(data))
	}

	items := AdditionalInfo(nil)
	block := data[1 : 1+length]

	for len(block) > 0 {
		if len(block) < 2 {
			return 0, errTruncated("additional info item", 2, len(block))
		}

		itemLength := int(block[1])
		if len(block) < 2+itemLength {
			return 0, errTruncated("additional info item", 2+itemLength, len(block))
		}

		item := InfoItem{Type: InfoType(block[0]), Data: make([]byte, itemLength)}
		copy(item.Data, block[2:2+itemLength])
		items = append(items, item)

		block = block[2+itemLength:]
	}

	*info = items
	return uint(1 + length), nil
}
