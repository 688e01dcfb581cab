// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/util"
)

// handshakeMAC computes an encrypted handshake MAC. Handshake messages use an all-zero B0 and
// a counter block of 14 zero bytes followed by 0xFF, 0x00.
func handshakeMAC(key [KeySize]byte, associated []byte) (mac [MACSize]byte) {
	ccm := newCCM(key)
	plain := ccm.MAC([blockSize]byte{}, associated, nil)
	copy(mac[:], ccm.EncryptMAC(Counter0([6]byte{}, [6]byte{}, 0), plain[:]))
	return
}

// ResponseMAC computes the MAC a gateway puts into its Session Response. It is keyed by the
// device authentication code.
func ResponseMAC(deviceCode [KeySize]byte, sessionID uint16, client, server [PublicKeySize]byte) [MACSize]byte {
	header := knxnet.NewHeader(knxnet.SessionResService, knxnet.SessionRes{}.Size())

	associated := make([]byte, knxnet.HeaderSize+2+PublicKeySize)
	util.PackSome(associated, header, sessionID, xorKeys(client, server))

	return handshakeMAC(deviceCode, associated)
}

// AuthenticateMAC computes the MAC a client puts into its Session Authenticate. It is keyed by
// the user password hash.
func AuthenticateMAC(userHash [KeySize]byte, userID uint8, client, server [PublicKeySize]byte) [MACSize]byte {
	header := knxnet.NewHeader(knxnet.SessionAuthService, knxnet.SessionAuth{}.Size())

	associated := make([]byte, knxnet.HeaderSize+2+PublicKeySize)
	util.PackSome(associated, header, uint8(0), userID, xorKeys(client, server))

	return handshakeMAC(userHash, associated)
}
