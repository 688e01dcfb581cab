// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/LB-00/knx-secure/knx/cemi"
)

// KeyStore holds the Data Secure keys of group addresses.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[cemi.GroupAddr][KeySize]byte
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[cemi.GroupAddr][KeySize]byte)}
}

// Set stores the key of a group address.
func (ks *KeyStore) Set(addr cemi.GroupAddr, key [KeySize]byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.keys[addr] = key
}

// Key returns the key of a group address.
func (ks *KeyStore) Key(addr cemi.GroupAddr) ([KeySize]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	key, ok := ks.keys[addr]
	return key, ok
}

// Len returns the number of stored keys.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return len(ks.keys)
}

// ParseKeyStore reads a YAML document that maps group addresses to hex encoded keys:
//
//	"1/2/3": "000102030405060708090a0b0c0d0e0f"
func ParseKeyStore(data []byte) (*KeyStore, error) {
	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse key store: %w", err)
	}

	ks := NewKeyStore()

	for name, value := range entries {
		addr, err := cemi.NewGroupAddrString(name)
		if err != nil {
			return nil, fmt.Errorf("key store entry %q: %w", name, err)
		}

		raw, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("key store entry %q: %w", name, err)
		}

		if len(raw) != KeySize {
			return nil, fmt.Errorf("key store entry %q: %w", name, ErrInvalidKeySize)
		}

		var key [KeySize]byte
		copy(key[:], raw)
		ks.Set(addr, key)
	}

	return ks, nil
}

// LoadKeyStore reads a key store file.
func LoadKeyStore(path string) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseKeyStore(data)
}
