package ledgeroracle

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABIJSON declares the four on-ledger entry points this spec
// needs: three views plus the batch submission method used by
// internal/ledgersubmitter. It's hand-written rather than abigen-generated
// since no Solidity source ships in this tree.
const contractABIJSON = `[
  {
    "type": "function",
    "name": "currentDataCid",
    "stateMutability": "view",
    "inputs": [
      {"name": "propertyDigest", "type": "bytes32"},
      {"name": "groupDigest", "type": "bytes32"}
    ],
    "outputs": [{"name": "", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "hasSubmitted",
    "stateMutability": "view",
    "inputs": [
      {"name": "identity", "type": "address"},
      {"name": "propertyDigest", "type": "bytes32"},
      {"name": "groupDigest", "type": "bytes32"},
      {"name": "dataDigest", "type": "bytes32"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "submitters",
    "stateMutability": "view",
    "inputs": [
      {"name": "propertyDigest", "type": "bytes32"},
      {"name": "groupDigest", "type": "bytes32"},
      {"name": "dataDigest", "type": "bytes32"}
    ],
    "outputs": [{"name": "", "type": "address[]"}]
  },
  {
    "type": "function",
    "name": "submitBatch",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "items",
        "type": "tuple[]",
        "components": [
          {"name": "propertyDigest", "type": "bytes32"},
          {"name": "groupDigest", "type": "bytes32"},
          {"name": "dataDigest", "type": "bytes32"}
        ]
      }
    ],
    "outputs": []
  }
]`

// parsedABI is loaded once and shared by the oracle and submitter.
var parsedABI abi.ABI

func init() {
	a, err := abi.JSON(strings.NewReader(contractABIJSON))
	if err != nil {
		panic("ledgeroracle: invalid embedded ABI: " + err.Error())
	}
	parsedABI = a
}

// Pack ABI-encodes a call to method on the shared contract ABI. Exported
// so internal/ledgersubmitter can encode submitBatch calls without
// embedding a second copy of the ABI.
func Pack(method string, args ...interface{}) ([]byte, error) {
	return parsedABI.Pack(method, args...)
}
