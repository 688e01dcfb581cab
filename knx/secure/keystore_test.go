// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LB-00/knx-secure/knx/cemi"
)

func TestParseKeyStore(t *testing.T) {
	ks, err := ParseKeyStore([]byte(`
"1/2/3": 000102030405060708090a0b0c0d0e0f
"4/0/1": "ffffffffffffffffffffffffffffffff"
`))
	require.NoError(t, err)
	assert.Equal(t, 2, ks.Len())

	key, ok := ks.Key(testGroup)
	require.True(t, ok)
	assert.Equal(t, testKey, key)

	_, ok = ks.Key(cemi.NewGroupAddr3(4, 0, 2))
	assert.False(t, ok)
}

func TestParseKeyStoreInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"address": `"32/0/0": 000102030405060708090a0b0c0d0e0f`,
		"hex":     `"1/2/3": nothex`,
		"size":    `"1/2/3": "0001"`,
		"yaml":    `[unterminated`,
	} {
		_, err := ParseKeyStore([]byte(doc))
		assert.Error(t, err, name)
	}

	_, err := ParseKeyStore([]byte(`"1/2/3": "0001"`))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestLoadKeyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`"1/2/3": 000102030405060708090a0b0c0d0e0f`), 0o600))

	ks, err := LoadKeyStore(path)
	require.NoError(t, err)
	assert.True(t, NewDataSecure(ks, 0).IsSecured(testGroup))

	_, err = LoadKeyStore(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
