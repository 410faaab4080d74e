package ledgeroracle

import (
	"errors"
	"fmt"
	"strings"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrInvalidDigest is returned when a value read back from the ledger
// doesn't decode to a well-formed sha2-256 digest, or when a CID can't be
// translated to the ledger's fixed-width on-chain form.
var ErrInvalidDigest = errors.New("invalid ledger digest")

// DigestSize is the width of the on-chain digest slot (bytes32, carrying
// a raw sha2-256 digest with no multihash framing).
const DigestSize = 32
const digestSize = DigestSize

// zeroDigest is the ledger's "unset" sentinel.
var zeroDigest [digestSize]byte

// cidToDigest extracts the fixed-width sha2-256 digest bytes from a CID's
// multihash, stripping an optional leading "." prefix first (some
// callers carry a dot-prefixed CID string as a display convention).
func cidToDigest(cidStr string) ([digestSize]byte, error) {
	var out [digestSize]byte
	cidStr = strings.TrimPrefix(cidStr, ".")

	c, err := cid.Decode(cidStr)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if decoded.Code != mh.SHA2_256 {
		return out, fmt.Errorf("%w: unsupported multihash code %d", ErrInvalidDigest, decoded.Code)
	}
	if len(decoded.Digest) != digestSize {
		return out, fmt.Errorf("%w: digest length %d, want %d", ErrInvalidDigest, len(decoded.Digest), digestSize)
	}
	copy(out[:], decoded.Digest)
	return out, nil
}

// digestToCID derives the CIDv0 display form of an on-chain digest.
func digestToCID(digest [digestSize]byte) (string, error) {
	encoded, err := mh.Encode(digest[:], mh.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return cid.NewCidV0(encoded).String(), nil
}

func isZeroDigest(digest [digestSize]byte) bool {
	return digest == zeroDigest
}

// CIDToDigest is the exported form of cidToDigest, reused by
// internal/ledgersubmitter to encode DataItem CIDs for the submission
// call without duplicating the CID/multihash decoding logic.
func CIDToDigest(cidStr string) ([DigestSize]byte, error) {
	return cidToDigest(cidStr)
}

// DigestToCID is the exported form of digestToCID.
func DigestToCID(digest [DigestSize]byte) (string, error) {
	return digestToCID(digest)
}
