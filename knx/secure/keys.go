// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PublicKeySize is the size of a Curve25519 key.
	PublicKeySize = curve25519.PointSize

	pbkdf2Iterations = 65536

	deviceAuthenticationSalt = "device-authentication-code.1.secure.ip.knx.org"
	userPasswordSalt         = "user-password.1.secure.ip.knx.org"
)

func derivePassword(password, salt string) [KeySize]byte {
	var key [KeySize]byte
	copy(key[:], pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, KeySize, sha256.New))
	return key
}

// DeviceAuthenticationCode derives the key that authenticates the gateway's Session Response.
func DeviceAuthenticationCode(password string) [KeySize]byte {
	return derivePassword(password, deviceAuthenticationSalt)
}

// UserPasswordHash derives the key that authenticates a user in the Session Authenticate.
func UserPasswordHash(password string) [KeySize]byte {
	return derivePassword(password, userPasswordSalt)
}

// GenerateKeyPair creates an ephemeral Curve25519 key pair.
func GenerateKeyPair() (private, public [PublicKeySize]byte, err error) {
	if _, err = rand.Read(private[:]); err != nil {
		return
	}

	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return
	}

	copy(public[:], pub)
	return
}

// SessionKey computes the key of a secure session: the first 16 bytes of the SHA-256 digest
// of the shared Curve25519 secret.
func SessionKey(private, peerPublic [PublicKeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte

	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return key, err
	}

	digest := sha256.Sum256(shared)
	copy(key[:], digest[:KeySize])
	return key, nil
}

// xorKeys combines both public keys of a handshake. The result is part of the data
// authenticated by the handshake MACs.
func xorKeys(a, b [PublicKeySize]byte) []byte {
	out := make([]byte, PublicKeySize)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
