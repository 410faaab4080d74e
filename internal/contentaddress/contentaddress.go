// Package contentaddress computes the content identifier (CID) of a byte
// sequence using the pinning service's native CID algorithm: a SHA2-256
// multihash wrapped in either the CIDv0 (implicit dag-pb/unixfs leaf) or
// CIDv1 raw-leaf form. Both functions are pure: identical bytes always
// produce an identical CID.
package contentaddress

import (
	cid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// CIDv0 computes the CIDv0 (base58btc, implicit dag-pb) content address of
// an arbitrary byte payload — the form the pinning service returns for a
// plain file add.
func CIDv0(data []byte) (string, error) {
	digest, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV0(digest).String(), nil
}

// CIDv1Raw computes the raw-leaf CIDv1 content address of a byte payload
// (codec 0x55), base32-encoded — the form used for media payloads that
// should not be wrapped in unixfs framing.
func CIDv1Raw(data []byte) (string, error) {
	digest, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	c := cid.NewCidV1(cid.Raw, digest)
	return c.StringOfBase(multibase.Base32)
}

// Of computes the CID the pipeline uses to address canonical-JSON bytes:
// CIDv0, matching the pinning service's default behavior for a JSON file
// upload.
func Of(canonicalBytes []byte) (string, error) {
	return CIDv0(canonicalBytes)
}
