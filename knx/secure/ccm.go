// Licensed under the MIT license which can be found in the LICENSE file.

// Package secure implements KNX IP Secure and KNX Data Secure: the AES-CCM engine with its
// KNX block layout, key derivation, the Secure Wrapper, the session handshake and the
// protection of single group telegrams.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
)

const (
	// KeySize is the size of all AES-128 keys.
	KeySize = 16

	// MACSize is the size of an untruncated MAC.
	MACSize = 16

	blockSize = aes.BlockSize

	// MaxPayloadSize is the largest payload the one byte block counter can address.
	MaxPayloadSize = 255 * blockSize
)

// Block0 builds the first CBC-MAC block: sequence, serial number, message tag and the
// payload length.
func Block0(seq [6]byte, serial [6]byte, tag uint16, length int) [blockSize]byte {
	var b0 [blockSize]byte
	copy(b0[0:6], seq[:])
	copy(b0[6:12], serial[:])
	binary.BigEndian.PutUint16(b0[12:14], tag)
	binary.BigEndian.PutUint16(b0[14:16], uint16(length))
	return b0
}

// Counter0 builds the counter block that encrypts the MAC. The last byte is the block
// counter; payload blocks use the counters 1 and up.
func Counter0(seq [6]byte, serial [6]byte, tag uint16) [blockSize]byte {
	var ctr [blockSize]byte
	copy(ctr[0:6], seq[:])
	copy(ctr[6:12], serial[:])
	binary.BigEndian.PutUint16(ctr[12:14], tag)
	ctr[14] = 0xff
	ctr[15] = 0x00
	return ctr
}

// CCM is an AES-128 CCM engine that takes the B0 and counter blocks from its caller.
type CCM struct {
	block cipher.Block
}

// NewCCM creates an engine for the given 16 byte key.
func NewCCM(key []byte) (*CCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &CCM{block: block}, nil
}

// newCCM creates an engine for a key of the fixed size, which aes.NewCipher always accepts.
func newCCM(key [KeySize]byte) *CCM {
	block, _ := aes.NewCipher(key[:])
	return &CCM{block: block}
}

// MAC computes the CBC-MAC with a zero IV over B0, the 2 byte length of the associated data,
// the associated data and the payload. The concatenation is zero-padded to whole blocks.
func (c *CCM) MAC(block0 [blockSize]byte, associated, payload []byte) [MACSize]byte {
	stream := make([]byte, 0, blockSize+2+len(associated)+len(payload)+blockSize)
	stream = append(stream, block0[:]...)
	stream = binary.BigEndian.AppendUint16(stream, uint16(len(associated)))
	stream = append(stream, associated...)
	stream = append(stream, payload...)

	if rem := len(stream) % blockSize; rem != 0 {
		stream = append(stream, make([]byte, blockSize-rem)...)
	}

	var mac [MACSize]byte
	for i := 0; i < len(stream); i += blockSize {
		subtle.XORBytes(mac[:], mac[:], stream[i:i+blockSize])
		c.block.Encrypt(mac[:], mac[:])
	}

	return mac
}

// Encrypt applies the CTR keystream of the blocks 1..n derived from counter0 to the payload.
func (c *CCM) Encrypt(counter0 [blockSize]byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}

	out := make([]byte, len(payload))

	ctr := counter0
	var stream [blockSize]byte
	for i := 0; i < len(payload); i += blockSize {
		ctr[blockSize-1] = counter0[blockSize-1] + byte(i/blockSize+1)
		c.block.Encrypt(stream[:], ctr[:])

		end := i + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		subtle.XORBytes(out[i:end], payload[i:end], stream[:end-i])
	}

	return out, nil
}

// Decrypt is the inverse of Encrypt. CTR mode makes both the same operation.
func (c *CCM) Decrypt(counter0 [blockSize]byte, ciphertext []byte) ([]byte, error) {
	return c.Encrypt(counter0, ciphertext)
}

// EncryptMAC encrypts the MAC with the keystream of counter0. A truncated MAC uses the leading
// bytes of the keystream.
func (c *CCM) EncryptMAC(counter0 [blockSize]byte, mac []byte) []byte {
	var s0 [blockSize]byte
	c.block.Encrypt(s0[:], counter0[:])

	n := len(mac)
	if n > blockSize {
		n = blockSize
	}

	out := make([]byte, n)
	subtle.XORBytes(out, mac[:n], s0[:n])
	return out
}

// Seal authenticates associated and payload, encrypts the payload and returns it together
// with the encrypted MAC truncated to macSize bytes.
func (c *CCM) Seal(block0, counter0 [blockSize]byte, associated, payload []byte, macSize int) ([]byte, []byte, error) {
	ciphertext, err := c.Encrypt(counter0, payload)
	if err != nil {
		return nil, nil, err
	}

	mac := c.MAC(block0, associated, payload)
	return ciphertext, c.EncryptMAC(counter0, mac[:macSize]), nil
}

// Open decrypts the ciphertext and verifies the encrypted MAC in constant time.
func (c *CCM) Open(block0, counter0 [blockSize]byte, associated, ciphertext, encryptedMAC []byte) ([]byte, error) {
	if len(encryptedMAC) == 0 || len(encryptedMAC) > MACSize {
		return nil, ErrMACVerification
	}

	plaintext, err := c.Decrypt(counter0, ciphertext)
	if err != nil {
		return nil, err
	}

	mac := c.MAC(block0, associated, plaintext)
	expected := c.EncryptMAC(counter0, mac[:len(encryptedMAC)])

	if subtle.ConstantTimeCompare(expected, encryptedMAC) != 1 {
		return nil, ErrMACVerification
	}

	return plaintext, nil
}
