package clblock

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Hash is an opaque block identifier.
//
// Hashes are compared bytewise; [Hash.Key] produces a value
// suitable for use as a map key.
type Hash []byte

// String renders a short hex prefix of the hash,
// which is usually sufficient to identify a block in logs.
func (h Hash) String() string {
	if len(h) == 0 {
		return "(empty)"
	}
	if len(h) <= 4 {
		return hex.EncodeToString(h)
	}
	return hex.EncodeToString(h[:4])
}

// Key returns the hash as a string for map keys.
func (h Hash) Key() string {
	return string(h)
}

// Equal reports whether h and other are bytewise equal.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// Summary is a block's header: its hash and the hashes of the blocks
// that must be locally present before the block can be validated.
//
// Summaries are treated as immutable once constructed.
type Summary struct {
	BlockHash Hash

	ParentHashes        []Hash
	JustificationHashes []Hash
}

// Dependencies returns the union of the summary's parent and
// justification hashes, deduplicated, parents first.
// A block's dependencies must all be stored
// before the block itself can be validated.
func (s Summary) Dependencies() []Hash {
	seen := make(map[string]struct{}, len(s.ParentHashes)+len(s.JustificationHashes))
	deps := make([]Hash, 0, len(s.ParentHashes)+len(s.JustificationHashes))

	for _, lst := range [][]Hash{s.ParentHashes, s.JustificationHashes} {
		for _, h := range lst {
			if _, ok := seen[h.Key()]; ok {
				continue
			}
			seen[h.Key()] = struct{}{}
			deps = append(deps, h)
		}
	}

	return deps
}

// Block is a full block: its summary plus the body payload.
// The body is opaque to the gossip layer.
type Block struct {
	Summary Summary

	Body []byte
}

// CheckHash recomputes the block's hash from its body
// and reports a mismatch against the summary's BlockHash.
func (b Block) CheckHash() error {
	want := HashBody(b.Body)
	if !want.Equal(b.Summary.BlockHash) {
		return fmt.Errorf("block hash mismatch: body hashes to %v, summary claims %v", want, b.Summary.BlockHash)
	}
	return nil
}
