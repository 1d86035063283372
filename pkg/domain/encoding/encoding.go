// Package encoding implements the canonical, content-addressable
// binary encoding used for every hash in the engine: values, schemas,
// manifests, job records and pipeline structures all hash the same way.
//
// Encoding is CBOR with canonical (RFC 8949 §4.2.1) options: map keys
// sorted, definite-length containers. Hashing wraps sha2-256 in a short
// multihash-style prefix so a hash is self-describing without a
// separate out-of-band "what algorithm was this" lookup.
package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrCanonicalization is returned when a structure cannot be canonically
// encoded: cyclic references, or a value carrying a type with no
// registered encoder (see datatype.ErrOpaqueNotPersistable for the
// specific payload case).
var ErrCanonicalization = errors.New("canonicalization error")

func NewCanonicalizationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrCanonicalization, reason)
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = m
}

// CanonicalEncode serializes v to its canonical byte representation.
// Two values that are semantically equal (same map keys/values,
// same array order) always produce byte-identical output.
func CanonicalEncode(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, NewCanonicalizationError(err.Error())
	}
	return b, nil
}

// CanonicalDecode is the inverse of CanonicalEncode.
func CanonicalDecode(b []byte, out any) error {
	return cbor.Unmarshal(b, out)
}

// multihash code for sha2-256, matching the multicodec table value
// used by the IPLD/multiformats ecosystem this format is modeled on.
const sha2_256Code = 0x12

// Hash is a self-describing content hash: <code><length><digest>,
// varint-free since sha2-256's code and length both fit in one byte.
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool { return h == "" }

// HashOf computes the multihash-prefixed sha2-256 digest of b.
func HashOf(b []byte) Hash {
	digest := sha256.Sum256(b)
	buf := make([]byte, 0, 2+len(digest))
	buf = append(buf, sha2_256Code, byte(len(digest)))
	buf = append(buf, digest[:]...)
	return Hash(hex.EncodeToString(buf))
}

// HashOfValue canonically encodes v and hashes the result in one step.
func HashOfValue(v any) (Hash, error) {
	b, err := CanonicalEncode(v)
	if err != nil {
		return "", err
	}
	return HashOf(b), nil
}
