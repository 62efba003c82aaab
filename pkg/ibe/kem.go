// Package ibe defines the Identity-Based Encryption KEM contract
// PostGuard's core requires (spec.md §6.1, §4.6) and a concrete
// reference scheme that satisfies it.
//
// The IBE primitive itself is, per spec.md §1, an external collaborator:
// the sealing/unsealing pipeline only ever talks to the KEM interface
// below. Scheme is a Boneh–Franklin-style construction over the
// BLS12-381 pairing group (github.com/cloudflare/circl), grounded in the
// same circl dependency the teacher example (IABTechLab-opja's opjale
// package) pulls in for its own pairing-free HPKE KEM; see DESIGN.md.
package ibe

import "io"

// SharedSecretSize is the length in bytes of a SharedSecret. The sealing
// pipeline uses its first wire.KeySize bytes as the key that wraps the
// stream's random content key for one recipient; the stream AEAD itself
// is keyed with that content key.
const SharedSecretSize = 32

// ID is a derived IBE identity: the output of Policy.DeriveIBE, already
// reduced to the scheme's identity-scalar domain.
type ID [32]byte

// SharedSecret is the 32-byte symmetric secret a KEM produces.
type SharedSecret [SharedSecretSize]byte

// KEM is the narrow contract the sealing/unsealing pipeline requires of
// an identity-based key encapsulation mechanism (spec.md §4.6).
type KEM interface {
	// Setup generates a fresh master key pair.
	Setup(rand io.Reader) (PublicKey, *MasterSecretKey, error)
	// ExtractUSK derives a recipient's user secret key for id.
	ExtractUSK(msk *MasterSecretKey, id ID, rand io.Reader) (UserSecretKey, error)
	// Encaps produces a ciphertext/shared-secret pair bound to id, using
	// only the master public key.
	Encaps(pk PublicKey, id ID, rand io.Reader) (Ciphertext, SharedSecret, error)
	// Decaps recovers the shared secret a ciphertext carries, given the
	// matching user secret key.
	Decaps(usk UserSecretKey, ct Ciphertext) (SharedSecret, error)
}

// PublicKey, MasterSecretKey, UserSecretKey, and Ciphertext are opaque,
// scheme-specific byte carriers from the caller's perspective; Scheme
// (bf.go) is the only code that interprets their contents.
type (
	PublicKey       struct{ Bytes []byte }
	MasterSecretKey struct{ Bytes []byte }
	UserSecretKey   struct{ Bytes []byte }
	Ciphertext      struct{ Bytes []byte }
)
