// Package ethsig provides Ethereum identity primitives: secp256k1 key
// generation and loading (hex and keystore), address derivation, and the
// keccak256 hashing used to derive ledger message hashes.
package ethsig

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// HashKeccak256 computes the keccak256 hash of data.
func HashKeccak256(data []byte) []byte {
	return crypto.Keccak256(data)
}
