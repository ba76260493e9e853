// Package canon provides the deterministic serialization primitives every
// hash-chained record in this engine is built on: no pretty-printing, no
// locale-sensitive formatting, no unordered container iteration. Three shapes
// recur across the component designs and each gets its own helper here:
//
//   - colon-joined field tuples (signature payloads, self-hash tuples)
//   - sorted-key "k:v" pipe joins (the ledger anchor memo)
//   - canonical CBOR encoding of arbitrary maps (context/metadata bags that
//     must still contribute deterministically to a record hash)
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// GenesisMarker is the sentinel previous-hash value used as the predecessor
// for the first record in any hash chain.
const GenesisMarker = "genesis"

// Sum256Hex returns the lowercase hex SHA-256 digest of b.
func Sum256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GenesisHash is SHA-256("genesis"), used by chains that need a genesis value
// as an actual hash rather than the literal marker string (e.g. the first
// signature's previousSignatureHash per §4.14).
func GenesisHash() string {
	return Sum256Hex([]byte(GenesisMarker))
}

// Join deterministically concatenates fields with ':' — the join used for
// signature payloads, session self-hashes, and workflow self-hashes.
func Join(fields ...string) string {
	return strings.Join(fields, ":")
}

// JoinHash is Join followed by SHA-256, returned as lowercase hex.
func JoinHash(fields ...string) string {
	return Sum256Hex([]byte(Join(fields...)))
}

// SortedPipeJoin renders a map as "k1:v1|k2:v2|..." with keys in ascending
// lexical order, independent of map iteration order. This is the memo body
// serialization used by the ledger anchor engine (§4.9).
func SortedPipeJoin(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+fields[k])
	}
	return strings.Join(parts, "|")
}

// SortedPipeJoinHash is SortedPipeJoin followed by SHA-256, hex-encoded.
func SortedPipeJoinHash(fields map[string]string) string {
	return Sum256Hex([]byte(SortedPipeJoin(fields)))
}

// canonicalEncMode is a CBOR encoder configured for deterministic output:
// sorted map keys, shortest-form integers, no indefinite-length items. Any
// two calls encoding equal Go values produce byte-identical output.
var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic("canon: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

// CanonicalMapBytes deterministically encodes an arbitrary map (the context
// bag on an intent record, the metadata bag on a CID record) so it can be
// folded into a record hash without Go's unordered map iteration leaking
// into the digest.
func CanonicalMapBytes(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte{}, nil
	}
	return canonicalEncMode.Marshal(m)
}

// CanonicalMapHash is CanonicalMapBytes followed by SHA-256, hex-encoded.
// An encoding error collapses to the SHA-256 of empty input, the same digest
// a nil map yields — callers that need to distinguish the two should call
// CanonicalMapBytes directly.
func CanonicalMapHash(m map[string]any) string {
	b, err := CanonicalMapBytes(m)
	if err != nil {
		return Sum256Hex(nil)
	}
	return Sum256Hex(b)
}

// Uint64 renders a uint64 as a decimal string for inclusion in Join tuples.
func Uint64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Int renders an int as a decimal string for inclusion in Join tuples.
func Int(v int) string {
	return strconv.Itoa(v)
}

// Bool renders a bool as "true"/"false" for inclusion in Join tuples.
func Bool(v bool) string {
	return strconv.FormatBool(v)
}
