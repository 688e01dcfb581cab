// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"crypto/subtle"
	"encoding/binary"
	"sync"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

const (
	// SecurityControlField selects authenticated encryption of an S-A_Data service.
	SecurityControlField uint8 = 0x10

	// DataSecureMACSize is the size of the truncated Data Secure MAC.
	DataSecureMACSize = 4

	dataSecureOverhead = 1 + 6 + DataSecureMACSize
)

// DataSecure protects group telegrams with KNX Data Secure. It keeps the outgoing sequence
// counter and the last sequence number accepted from every source.
type DataSecure struct {
	keys *KeyStore

	mu   sync.Mutex
	seq  uint64
	last map[cemi.IndividualAddr]uint64
}

// NewDataSecure creates a Data Secure codec. Outgoing telegrams are numbered from seq, or
// from 1 if seq is 0.
func NewDataSecure(keys *KeyStore, seq uint64) *DataSecure {
	if seq == 0 {
		seq = 1
	}

	if keys == nil {
		keys = NewKeyStore()
	}

	return &DataSecure{
		keys: keys,
		seq:  seq,
		last: make(map[cemi.IndividualAddr]uint64),
	}
}

// IsSecured reports whether telegrams to the group address are protected.
func (ds *DataSecure) IsSecured(addr cemi.GroupAddr) bool {
	_, ok := ds.keys.Key(addr)
	return ok
}

// Sequence returns the sequence number the next outgoing telegram will use.
func (ds *DataSecure) Sequence() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	return ds.seq
}

func (ds *DataSecure) key(ldata *cemi.LData) (*CCM, error) {
	dst, ok := ldata.GroupDestination()
	if !ok {
		return nil, ErrNoGroupKey
	}

	key, ok := ds.keys.Key(dst)
	if !ok {
		return nil, ErrNoGroupKey
	}

	return newCCM(key), nil
}

// dataBlock0 builds the CBC-MAC block 0 from the received or sent sequence and addresses.
func dataBlock0(seq [6]byte, ldata *cemi.LData, tpci uint8, length int) (b0 [blockSize]byte) {
	_, ctrl2 := ldata.Control.Octets()

	copy(b0[0:6], seq[:])
	binary.BigEndian.PutUint16(b0[6:8], uint16(ldata.Source))
	binary.BigEndian.PutUint16(b0[8:10], ldata.Destination)
	b0[10] = 0x00
	b0[11] = ctrl2 & 0x8f
	b0[12] = tpci | byte(cemi.SecureService>>8)
	b0[13] = byte(cemi.SecureService & 0xff)
	b0[14] = 0x00
	b0[15] = byte(length)
	return
}

func dataCounter0(seq [6]byte, ldata *cemi.LData) (ctr [blockSize]byte) {
	copy(ctr[0:6], seq[:])
	binary.BigEndian.PutUint16(ctr[6:8], uint16(ldata.Source))
	binary.BigEndian.PutUint16(ctr[8:10], ldata.Destination)
	ctr[14] = 0x01
	return
}

// tpciOctet returns the transport control bits of the secure APDU.
func tpciOctet(app *cemi.AppData) uint8 {
	if app.Numbered {
		return 1<<6 | (app.SeqNumber&15)<<2
	}
	return 0
}

// EncryptLData returns a copy of the group telegram whose APDU is replaced by the secure APDU.
func (ds *DataSecure) EncryptLData(ldata cemi.LData) (cemi.LData, error) {
	app, ok := ldata.Data.(*cemi.AppData)
	if !ok {
		return ldata, &util.InvalidFieldError{Field: "transport unit", Value: ldata.Data}
	}

	ccm, err := ds.key(&ldata)
	if err != nil {
		return ldata, err
	}

	ds.mu.Lock()
	if ds.seq > MaxSequence {
		ds.mu.Unlock()
		return ldata, ErrSequenceOverflow
	}
	seq := PutSequence(ds.seq)
	ds.seq++
	ds.mu.Unlock()

	plaintext := app.APDU()
	if len(plaintext) > MaxPayloadSize {
		return ldata, ErrPayloadTooLong
	}

	secured := &cemi.AppData{
		Numbered:  app.Numbered,
		SeqNumber: app.SeqNumber,
		Command:   cemi.SecureService,
	}

	mac := ccm.MAC(dataBlock0(seq, &ldata, tpciOctet(secured), len(plaintext)), []byte{SecurityControlField}, plaintext)

	counter0 := dataCounter0(seq, &ldata)
	ciphertext, err := ccm.Encrypt(counter0, plaintext)
	if err != nil {
		return ldata, err
	}

	secured.Data = make([]byte, 0, dataSecureOverhead+len(ciphertext))
	secured.Data = append(secured.Data, SecurityControlField)
	secured.Data = append(secured.Data, seq[:]...)
	secured.Data = append(secured.Data, ciphertext...)
	secured.Data = append(secured.Data, ccm.EncryptMAC(counter0, mac[:DataSecureMACSize])...)

	ldata.Data = secured
	return ldata, nil
}

// DecryptLData verifies a secured group telegram and returns a copy carrying the plain APDU.
// Telegrams whose sequence number does not exceed the last one accepted from the same source
// are rejected with a SequenceViolationError.
func (ds *DataSecure) DecryptLData(ldata cemi.LData) (cemi.LData, error) {
	app, ok := ldata.Data.(*cemi.AppData)
	if !ok || app.Command != cemi.SecureService {
		return ldata, ErrNotSecured
	}

	if len(app.Data) < dataSecureOverhead {
		return ldata, &util.TruncatedBufferError{
			Structure: "secure APDU",
			Need:      dataSecureOverhead,
			Have:      len(app.Data),
		}
	}

	if app.Data[0] != SecurityControlField {
		return ldata, &util.InvalidFieldError{Field: "security control field", Value: app.Data[0]}
	}

	ccm, err := ds.key(&ldata)
	if err != nil {
		return ldata, err
	}

	var seq [6]byte
	copy(seq[:], app.Data[1:7])
	ciphertext := app.Data[7 : len(app.Data)-DataSecureMACSize]
	encryptedMAC := app.Data[len(app.Data)-DataSecureMACSize:]

	received := SequenceValue(seq)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if last, ok := ds.last[ldata.Source]; ok && received <= last {
		return ldata, &SequenceViolationError{Received: received, Last: last}
	}

	counter0 := dataCounter0(seq, &ldata)
	plaintext, err := ccm.Decrypt(counter0, ciphertext)
	if err != nil {
		return ldata, err
	}

	mac := ccm.MAC(dataBlock0(seq, &ldata, tpciOctet(app), len(plaintext)), app.Data[:1], plaintext)
	expected := ccm.EncryptMAC(counter0, mac[:DataSecureMACSize])
	if subtle.ConstantTimeCompare(expected, encryptedMAC) != 1 {
		return ldata, ErrMACVerification
	}

	inner, err := cemi.UnpackAppData(plaintext)
	if err != nil {
		return ldata, err
	}

	ds.last[ldata.Source] = received

	ldata.Data = inner
	return ldata, nil
}
