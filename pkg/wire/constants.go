// Package wire implements PostGuard's sealed-stream container format
// (spec.md §4.3, §6.2): the preamble, header, header signature, and the
// deterministic binary codec used to serialize every section.
package wire

// Prelude is the 4-byte magic every sealed stream starts with.
var Prelude = [4]byte{'P', 'G', 'v', '3'}

const (
	// VersionV3 is the only wire version this implementation speaks.
	VersionV3 uint16 = 3

	// PreambleSize is len(Prelude) + 2 (version) + 4 (header length).
	PreambleSize = 4 + 2 + 4

	// SigSizeSize is the width of the header-signature length prefix.
	SigSizeSize = 4
	// PolSizeSize is the width of the first segment's signer-policy
	// length prefix.
	PolSizeSize = 4

	// KeySize is the AEAD key length derived from a KEM shared secret.
	KeySize = 16
	// StreamNonceSize is the AEAD nonce length derived from the header IV.
	StreamNonceSize = 12
	// TagSize is the Deck authentication tag length (must match deck.TagLen).
	TagSize = 32
	// IVSize is the length of the Algorithm.Aes128Gcm IV field.
	IVSize = 16
	// NonceSize is an alias for StreamNonceSize kept for wire-naming parity
	// with spec.md §4.3.
	NonceSize = 12

	// DefaultSegmentSize is the segment size a Sealer picks unless
	// overridden: 64 KiB.
	DefaultSegmentSize uint32 = 65536
)
