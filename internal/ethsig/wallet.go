package ethsig

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateNewKey returns a fresh secp256k1 private key.
func GenerateNewKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// PrivateKeyToHex returns the 64-character unprefixed hex encoding of key.
func PrivateKeyToHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(key))
}

// LoadPrivateKeyFromHex parses a hex-encoded private key, with or without
// a 0x prefix.
func LoadPrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// GetAddressFromPrivateKey derives the 0x-prefixed checksummed address for
// key.
func GetAddressFromPrivateKey(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// CreateKeystore encrypts key with passphrase using go-ethereum's standard
// key-derivation parameters and writes the resulting JSON keystore file to
// path with owner-only permissions.
func CreateKeystore(key *ecdsa.PrivateKey, passphrase, path string) error {
	ks, err := keystore.EncryptKey(&keystore.Key{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	if err := os.WriteFile(path, ks, 0o600); err != nil {
		return fmt.Errorf("write keystore file: %w", err)
	}
	return nil
}

// keystoreHeader is the subset of a V3 keystore file needed to read the
// address without decrypting it.
type keystoreHeader struct {
	Address string `json:"address"`
}

// GetAddressFromKeystore reads the address field from a keystore file
// without decrypting it.
func GetAddressFromKeystore(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read keystore file: %w", err)
	}
	var hdr keystoreHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return "", fmt.Errorf("parse keystore file: %w", err)
	}
	if hdr.Address == "" {
		return "", fmt.Errorf("keystore file has no address field")
	}
	return "0x" + strings.TrimPrefix(hdr.Address, "0x"), nil
}

// LoadPrivateKeyFromKeystore decrypts the keystore file at path with
// passphrase and returns the private key it holds.
func LoadPrivateKeyFromKeystore(path, passphrase string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore file: %w", err)
	}
	return key.PrivateKey, nil
}
