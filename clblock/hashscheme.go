package clblock

import "golang.org/x/crypto/blake2b"

// HashBody computes the canonical block hash over the block body.
// Blocks are identified by the blake2b-256 digest of their body bytes.
func HashBody(body []byte) Hash {
	sum := blake2b.Sum256(body)
	return Hash(sum[:])
}
