// Package digest computes the canonical cryptographic digest of a book's
// bid/ask ladders, used to verify client state against the server's book
// hash (spec §4.4) and recorded in session metadata so an offline replay
// from another deployment can re-verify it (spec §9).
//
// Two algorithms are supported, both collision-resistant 256-bit hashes:
// "keccak256" (the default, matching the hash primitive the Polymarket
// stack already depends on via go-ethereum) and "blake2b-256" (an
// alternate, selectable per deployment via hash_algorithm config).
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"

	"polymarket-streamcore/pkg/fixedpoint"
)

// Algorithm identifies a hash function by its config/session-metadata name.
type Algorithm string

const (
	Keccak256 Algorithm = "keccak256"
	Blake2b256 Algorithm = "blake2b-256"
)

const (
	levelDelimiter   = "|"
	sectionDelimiter = "#"
)

// Level is the minimal shape this package needs from a ladder entry; kept
// separate from internal/bookmodel to avoid an import cycle (bookupdate
// imports both).
type Level struct {
	Price fixedpoint.FixedDecimal
	Size  fixedpoint.FixedDecimal
}

// Func computes the digest of a book given its ladders in required
// iteration order (bids descending, asks ascending) and returns the
// hex-encoded digest, matching the wire format's hex book-hash field.
type Func func(bids, asks []Level) string

// New resolves an Algorithm name to its Func. Returns an error for an
// unrecognized algorithm so misconfiguration fails fast at startup rather
// than silently defaulting.
func New(alg Algorithm) (Func, error) {
	switch alg {
	case Keccak256, "":
		return keccak256Digest, nil
	case Blake2b256:
		return blake2bDigest, nil
	default:
		return nil, fmt.Errorf("unknown hash_algorithm %q", alg)
	}
}

func canonicalize(bids, asks []Level) []byte {
	buf := make([]byte, 0, 64*(len(bids)+len(asks))+8)
	for i, lvl := range bids {
		if i > 0 {
			buf = append(buf, levelDelimiter...)
		}
		buf = append(buf, lvl.Price.String()...)
		buf = append(buf, ':')
		buf = append(buf, lvl.Size.String()...)
	}
	buf = append(buf, sectionDelimiter...)
	for i, lvl := range asks {
		if i > 0 {
			buf = append(buf, levelDelimiter...)
		}
		buf = append(buf, lvl.Price.String()...)
		buf = append(buf, ':')
		buf = append(buf, lvl.Size.String()...)
	}
	return buf
}

func keccak256Digest(bids, asks []Level) string {
	sum := crypto.Keccak256(canonicalize(bids, asks))
	return hex.EncodeToString(sum)
}

func blake2bDigest(bids, asks []Level) string {
	sum := blake2b.Sum256(canonicalize(bids, asks))
	return hex.EncodeToString(sum[:])
}
