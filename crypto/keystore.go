package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	errNilKey       = errors.New("crypto: nil private key")
	errEmptyPath    = errors.New("crypto: empty keystore path")
	errAddressField = errors.New("crypto: keystore address does not match decrypted key")
)

// SaveToKeystore encrypts the custody key under passphrase as an Ethereum v3
// keystore document and writes it to path with 0600 permissions. The document
// is staged beside path and renamed over it, so readers never see a partial
// file.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return errNilKey
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return errEmptyPath
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("crypto: keystore id: %w", err)
	}
	doc, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    key.PubKey().Address().Common(),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}
	return writeFileAtomic(path, doc)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: create keystore dir: %w", err)
	}
	staged, err := os.CreateTemp(dir, ".custody-*.json")
	if err != nil {
		return fmt.Errorf("crypto: stage keystore: %w", err)
	}
	name := staged.Name()
	defer os.Remove(name)
	if _, err := staged.Write(data); err != nil {
		staged.Close()
		return fmt.Errorf("crypto: write keystore: %w", err)
	}
	if err := staged.Chmod(0o600); err != nil {
		staged.Close()
		return fmt.Errorf("crypto: chmod keystore: %w", err)
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("crypto: close keystore: %w", err)
	}
	return os.Rename(name, path)
}

// LoadFromKeystore decrypts the custody key at path. The address recorded in
// the document must belong to the decrypted key.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errEmptyPath
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(doc, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(doc, &header); err != nil {
		return nil, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if header.Address != "" && common.HexToAddress(header.Address) != decrypted.Address {
		return nil, fmt.Errorf("%w: file %s, key %s", errAddressField, header.Address, decrypted.Address.Hex())
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
