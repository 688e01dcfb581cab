// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = [KeySize]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
}

var (
	testSeq    = [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x2a}
	testSerial = [6]byte{0x00, 0xfa, 0x12, 0x34, 0x56, 0x78}
)

func makePayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	return payload
}

func TestBlockLayout(t *testing.T) {
	b0 := Block0(testSeq, testSerial, 0xaffe, 0x0102)
	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x2a,
		0x00, 0xfa, 0x12, 0x34, 0x56, 0x78,
		0xaf, 0xfe,
		0x01, 0x02,
	}, b0[:])

	ctr := Counter0(testSeq, testSerial, 0xaffe)
	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x2a,
		0x00, 0xfa, 0x12, 0x34, 0x56, 0x78,
		0xaf, 0xfe,
		0xff, 0x00,
	}, ctr[:])
}

func TestNewCCMKeySize(t *testing.T) {
	_, err := NewCCM(make([]byte, 15))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewCCM(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewCCM(testKey[:])
	assert.NoError(t, err)
}

// The MAC must equal the last block of a plain CBC encryption with zero IV over the padded
// B0, len(A), A, P stream.
func TestCCMMACMatchesCBC(t *testing.T) {
	ccm, err := NewCCM(testKey[:])
	require.NoError(t, err)

	block, err := aes.NewCipher(testKey[:])
	require.NoError(t, err)

	for _, n := range []int{0, 1, 13, 16, 31, 100} {
		associated := []byte{0x06, 0x10, 0x09, 0x50, 0x00, 0x2e, 0x00, 0x01}
		payload := makePayload(n)
		b0 := Block0(testSeq, testSerial, 0, n)

		stream := append([]byte{}, b0[:]...)
		stream = binary.BigEndian.AppendUint16(stream, uint16(len(associated)))
		stream = append(stream, associated...)
		stream = append(stream, payload...)
		for len(stream)%aes.BlockSize != 0 {
			stream = append(stream, 0)
		}

		out := make([]byte, len(stream))
		cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, stream)

		mac := ccm.MAC(b0, associated, payload)
		assert.Equal(t, out[len(out)-aes.BlockSize:], mac[:], "payload length %d", n)
	}
}

// Payload encryption must equal CTR mode starting at counter block 1.
func TestCCMEncryptMatchesCTR(t *testing.T) {
	ccm, err := NewCCM(testKey[:])
	require.NoError(t, err)

	block, err := aes.NewCipher(testKey[:])
	require.NoError(t, err)

	counter0 := Counter0(testSeq, testSerial, 0)
	iv := counter0
	iv[15] = 1

	payload := makePayload(MaxPayloadSize)
	expected := make([]byte, len(payload))
	cipher.NewCTR(block, iv[:]).XORKeyStream(expected, payload)

	ciphertext, err := ccm.Encrypt(counter0, payload)
	require.NoError(t, err)
	assert.Equal(t, expected, ciphertext)

	var s0 [aes.BlockSize]byte
	block.Encrypt(s0[:], counter0[:])

	mac := makePayload(MACSize)
	encrypted := ccm.EncryptMAC(counter0, mac)
	for i := range mac {
		assert.Equal(t, mac[i]^s0[i], encrypted[i])
	}

	assert.Equal(t, encrypted[:4], ccm.EncryptMAC(counter0, mac[:4]))
}

func TestCCMSealOpen(t *testing.T) {
	ccm, err := NewCCM(testKey[:])
	require.NoError(t, err)

	associated := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, n := range []int{0, 1, 15, 16, 17, MaxPayloadSize} {
		payload := makePayload(n)
		b0 := Block0(testSeq, testSerial, 0, n)
		ctr := Counter0(testSeq, testSerial, 0)

		ciphertext, mac, err := ccm.Seal(b0, ctr, associated, payload, MACSize)
		require.NoError(t, err)
		require.Len(t, ciphertext, n)
		require.Len(t, mac, MACSize)

		if n > 0 {
			assert.False(t, bytes.Equal(payload, ciphertext))
		}

		plaintext, err := ccm.Open(b0, ctr, associated, ciphertext, mac)
		require.NoError(t, err, "payload length %d", n)
		assert.Equal(t, payload, plaintext)
	}
}

func TestCCMPayloadTooLong(t *testing.T) {
	ccm, err := NewCCM(testKey[:])
	require.NoError(t, err)

	payload := makePayload(MaxPayloadSize + 1)
	ctr := Counter0(testSeq, testSerial, 0)

	_, err = ccm.Encrypt(ctr, payload)
	assert.ErrorIs(t, err, ErrPayloadTooLong)

	_, _, err = ccm.Seal(Block0(testSeq, testSerial, 0, len(payload)), ctr, nil, payload, MACSize)
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestCCMOpenTampered(t *testing.T) {
	ccm, err := NewCCM(testKey[:])
	require.NoError(t, err)

	associated := []byte{0x01, 0x02}
	payload := makePayload(20)
	b0 := Block0(testSeq, testSerial, 0, len(payload))
	ctr := Counter0(testSeq, testSerial, 0)

	ciphertext, mac, err := ccm.Seal(b0, ctr, associated, payload, MACSize)
	require.NoError(t, err)

	for i := range ciphertext {
		tampered := append([]byte{}, ciphertext...)
		tampered[i] ^= 0x01

		_, err := ccm.Open(b0, ctr, associated, tampered, mac)
		assert.ErrorIs(t, err, ErrMACVerification, "ciphertext byte %d", i)
	}

	for i := range mac {
		tampered := append([]byte{}, mac...)
		tampered[i] ^= 0x80

		_, err := ccm.Open(b0, ctr, associated, ciphertext, tampered)
		assert.ErrorIs(t, err, ErrMACVerification, "MAC byte %d", i)
	}

	_, err = ccm.Open(b0, ctr, []byte{0x01, 0x03}, ciphertext, mac)
	assert.ErrorIs(t, err, ErrMACVerification)

	_, err = ccm.Open(b0, ctr, associated, ciphertext, nil)
	assert.ErrorIs(t, err, ErrMACVerification)
}
