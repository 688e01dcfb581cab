// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"encoding/binary"

	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/util"
)

// MaxSequence is the largest value of the 48-bit sequence counters.
const MaxSequence = 1<<48 - 1

// PutSequence stores the lower 48 bits of seq in big endian order.
func PutSequence(seq uint64) (b [knxnet.SequenceSize]byte) {
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], seq)
	copy(b[:], full[2:])
	return
}

// SequenceValue decodes a 48-bit big endian sequence number.
func SequenceValue(b [knxnet.SequenceSize]byte) uint64 {
	var full [8]byte
	copy(full[2:], b[:])
	return binary.BigEndian.Uint64(full[:])
}

// wrapperAssociated returns the data authenticated alongside a wrapped frame: the wrapper's
// own header followed by the session id.
func wrapperAssociated(w *knxnet.SecureWrapper) []byte {
	header := w.Header()
	associated := make([]byte, header.Size()+2)
	util.PackSome(associated, header, w.SessionID)
	return associated
}

// Wrap encrypts a packed KNXnet/IP frame into a Secure Wrapper.
func Wrap(frame []byte, sessionID uint16, seq uint64, serial [knxnet.SerialSize]byte, tag uint16, key [KeySize]byte) (*knxnet.SecureWrapper, error) {
	if seq > MaxSequence {
		return nil, ErrSequenceOverflow
	}

	ccm := newCCM(key)

	w := &knxnet.SecureWrapper{
		SessionID: sessionID,
		Sequence:  PutSequence(seq),
		Serial:    serial,
		Tag:       tag,
		// The header in the associated data depends on the payload length only.
		Payload: make([]byte, len(frame)),
	}

	ciphertext, mac, err := ccm.Seal(
		Block0(w.Sequence, w.Serial, w.Tag, len(frame)),
		Counter0(w.Sequence, w.Serial, w.Tag),
		wrapperAssociated(w),
		frame,
		MACSize,
	)
	if err != nil {
		return nil, err
	}

	w.Payload = ciphertext
	copy(w.MAC[:], mac)

	return w, nil
}

// Unwrap verifies and decrypts a Secure Wrapper. It returns the inner frame.
func Unwrap(w *knxnet.SecureWrapper, key [KeySize]byte) ([]byte, error) {
	return newCCM(key).Open(
		Block0(w.Sequence, w.Serial, w.Tag, len(w.Payload)),
		Counter0(w.Sequence, w.Serial, w.Tag),
		wrapperAssociated(w),
		w.Payload,
		w.MAC[:],
	)
}
