package crypto

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripFormats(t *testing.T) {
	raw := make([]byte, 20)
	raw[19] = 0x2a
	addr := NewAddress(AccountPrefix, raw)

	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "acv1"))

	decoded, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.True(t, bytes.Equal(decoded.Bytes(), raw))

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr.Key(), fromHex.Key())
	require.Equal(t, addr.Common(), fromHex.Common())
}

func TestParseAddressRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "0x1234", "0xzz", "not-an-address"} {
		if _, err := ParseAddress(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestNewAddressCopiesInput(t *testing.T) {
	raw := make([]byte, 20)
	addr := NewAddress(AccountPrefix, raw)
	raw[0] = 0xff
	require.True(t, addr.IsZero())
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "custody", "key.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse"))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Key(), loaded.PubKey().Address().Key())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	rotated, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, SaveToKeystore(path, rotated, "correct horse"))
	loaded, err = LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, rotated.PubKey().Address().Key(), loaded.PubKey().Address().Key())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staged files are cleaned up")
}

func TestKeystoreRejectsForeignAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, SaveToKeystore(path, key, "pw"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["address"] = "00000000000000000000000000000000000000aa"
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = LoadFromKeystore(path, "pw")
	require.ErrorIs(t, err, errAddressField)
	require.ErrorIs(t, SaveToKeystore(path, nil, "pw"), errNilKey)
}
