// Package unseal implements the receiving half of PostGuard's
// sealed-stream pipeline (spec.md §4, §6.2): it mirrors pkg/seal in
// reverse, using a two-phase state machine — New verifies the preamble
// and parses the header, then Unseal (which needs a recipient's user
// secret key, obtained only after New confirms which identifiers are
// present) decrypts the payload and verifies both the header signature
// and every payload signature against the policy the sender actually
// signed under.
package unseal

import (
	"encoding/binary"
	"io"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/deck"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/pgerr"
	"github.com/DorAlter/postguard/pkg/wire"
)

// VerificationResult reports what a completed Unseal call established
// about the sender. Public is the policy the sender proved to the PKG
// and signed the stream under. Private, when non-nil, additionally
// reconstructs a hinted attribute's exact value from the recipient's own
// knowledge (spec.md §4.4) — left nil here, since hint reconstruction
// needs values the pipeline itself never holds; a caller wanting it
// compares Public's hidden hints against values it already knows.
type VerificationResult struct {
	Public  *identity.Policy
	Private *identity.Policy
}

// Unsealer is constructed from a sealed stream's preamble and header.
type Unsealer struct {
	pk     artifacts.PublicKey
	scheme ibe.KEM
	header wire.Header

	headerBytes []byte
	headerSig   ibs.Signature
	r           io.Reader
}

// New reads a sealed stream's preamble, header, and header signature
// from r. It does not verify the header signature yet — that requires
// knowing which policy the sender signed under, which in this container
// format travels just after the header (in-memory mode) or with the
// first payload segment (streaming mode), so verification happens
// inside Unseal once that policy is in hand.
func New(pk artifacts.PublicKey, scheme ibe.KEM, r io.Reader) (*Unsealer, error) {
	var preamble [wire.PreambleSize]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, pgerr.ErrNotPostGuard
		}
		return nil, pgerr.Wrap(pgerr.KindIo, err)
	}
	var magic [4]byte
	copy(magic[:], preamble[0:4])
	if magic != wire.Prelude {
		return nil, pgerr.ErrNotPostGuard
	}
	version := binary.BigEndian.Uint16(preamble[4:6])
	if version != wire.VersionV3 {
		return nil, pgerr.New(pgerr.KindNotPostGuard, "unsupported wire version")
	}
	headerLen := binary.BigEndian.Uint32(preamble[6:10])

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}

	var sigLenBuf [wire.SigSizeSize]byte
	if _, err := io.ReadFull(r, sigLenBuf[:]); err != nil {
		return nil, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	sigLen := binary.BigEndian.Uint32(sigLenBuf[:])
	sigBytes := make([]byte, sigLen)
	if _, err := io.ReadFull(r, sigBytes); err != nil {
		return nil, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	headerSig, err := ibs.SignatureFromBytes(sigBytes)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}

	header, err := wire.UnmarshalHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	return &Unsealer{
		pk:          pk,
		scheme:      scheme,
		header:      header,
		headerBytes: headerBytes,
		headerSig:   headerSig,
		r:           r,
	}, nil
}

// Header exposes the verified-structure (not yet signature-checked)
// header, primarily so a caller can look up which of header.Recipients
// identifiers it holds a user secret key for.
func (u *Unsealer) Header() wire.Header { return u.header }

func (u *Unsealer) recipientContentKey(id string, usk artifacts.UserSecretKey) ([]byte, error) {
	info, ok := u.header.Recipients[id]
	if !ok {
		return nil, pgerr.UnknownIdentifier(id)
	}
	ct, wrapped, err := unpackRecipientBlob(info.KemCiphertext)
	if err != nil {
		return nil, err
	}
	ss, err := u.scheme.Decaps(usk.Key, ibe.Ciphertext{Bytes: ct})
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	return unwrapContentKey(ss, wrapped, []byte(id))
}

func (u *Unsealer) verifyHeaderSignature(signerPolicy identity.Policy) error {
	signerID, err := signerPolicy.DeriveIBS()
	if err != nil {
		return err
	}
	v := ibs.DefaultVerifier().Chain(u.headerBytes)
	if !v.Verify(u.pk.Ibs, u.headerSig, signerID) {
		return pgerr.ErrIncorrectSignature
	}
	return nil
}

// Unseal decrypts the payload for recipient id, using usk (the user
// secret key the PKG issued for id's hidden policy), writing plaintext
// to w. It verifies the header signature and every payload signature
// before any plaintext derived from an unverified segment is written.
func (u *Unsealer) Unseal(id string, usk artifacts.UserSecretKey, w io.Writer) (VerificationResult, error) {
	contentKey, err := u.recipientContentKey(id, usk)
	if err != nil {
		return VerificationResult{}, err
	}

	switch u.header.Mode.Kind {
	case wire.ModeInMemory:
		return u.unsealInMemory(contentKey, w)
	default:
		return u.unsealStreaming(contentKey, w)
	}
}

func (u *Unsealer) unsealInMemory(contentKey []byte, w io.Writer) (VerificationResult, error) {
	var extLenBuf [wire.SigSizeSize]byte
	if _, err := io.ReadFull(u.r, extLenBuf[:]); err != nil {
		return VerificationResult{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	extLen := binary.BigEndian.Uint32(extLenBuf[:])
	extBytes := make([]byte, extLen)
	if _, err := io.ReadFull(u.r, extBytes); err != nil {
		return VerificationResult{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	ext, err := wire.UnmarshalSignatureExt(extBytes)
	if err != nil {
		return VerificationResult{}, err
	}
	if err := u.verifyHeaderSignature(ext.Pol); err != nil {
		return VerificationResult{}, err
	}

	ciphertext, err := io.ReadAll(u.r)
	if err != nil {
		return VerificationResult{}, pgerr.Wrap(pgerr.KindIo, err)
	}

	mo, err := newMemoryOpener(contentKey, u.header.Algo.IV[:])
	if err != nil {
		return VerificationResult{}, err
	}
	plaintext, err := mo.open(ciphertext, ext.Marshal())
	if err != nil {
		return VerificationResult{}, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return VerificationResult{}, pgerr.Wrap(pgerr.KindIo, err)
	}

	pol := ext.Pol
	return VerificationResult{Public: &pol}, nil
}

// unsealStreaming mirrors sealStreaming in reverse (spec.md §4.5): each
// wire segment is Deck-unwrapped whole before anything inside it — the
// segment-0 policy prefix, the payload, the trailing IBS signature — is
// interpreted, so decryption always happens before any of that
// plaintext is trusted. verifier accumulates the same incremental
// transcript the sealer's signer did, via Update; Clone branches off a
// throwaway copy to check the per-segment counter- and terminal-bound
// signature without disturbing the running transcript.
func (u *Unsealer) unsealStreaming(contentKey []byte, w io.Writer) (VerificationResult, error) {
	nonce := u.header.Algo.IV[:wire.StreamNonceSize]
	d := deck.New(contentKey, nonce)
	segBudget, err := wire.StreamModeChecked(u.header)
	if err != nil {
		return VerificationResult{}, err
	}

	bufsize := int(segBudget) + ibs.SigBytes + deck.CounterTagLen
	buf := make([]byte, bufsize)

	verifier := ibs.DefaultVerifier()
	var signerPolicy identity.Policy
	var counter uint32

	for {
		n, rerr := io.ReadFull(u.r, buf)
		terminal := rerr == io.ErrUnexpectedEOF || rerr == io.EOF
		if rerr != nil && !terminal {
			return VerificationResult{}, pgerr.Wrap(pgerr.KindIo, rerr)
		}

		segment := append([]byte(nil), buf[:n]...)
		if terminal {
			err = d.UnwrapLast(&segment)
		} else {
			err = d.Unwrap(&segment)
		}
		if err != nil {
			return VerificationResult{}, err
		}

		if counter == 0 {
			p, rest, err := splitPolicy(segment)
			if err != nil {
				return VerificationResult{}, err
			}
			signerPolicy = p
			if err := u.verifyHeaderSignature(signerPolicy); err != nil {
				return VerificationResult{}, err
			}
			segment = rest
		}

		if len(segment) < ibs.SigBytes {
			return VerificationResult{}, pgerr.FormatViolation("segment shorter than a signature")
		}
		message := segment[:len(segment)-ibs.SigBytes]
		sig, err := ibs.SignatureFromBytes(segment[len(segment)-ibs.SigBytes:])
		if err != nil {
			return VerificationResult{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
		}
		verifier.Update(message)

		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		terminalByte := byte(0)
		if terminal {
			terminalByte = 1
		}
		signerID, err := signerPolicy.DeriveIBS()
		if err != nil {
			return VerificationResult{}, err
		}
		if !verifier.Clone().Chain(counterBytes[:]).Chain([]byte{terminalByte}).Verify(u.pk.Ibs, sig, signerID) {
			return VerificationResult{}, pgerr.ErrIncorrectSignature
		}

		if len(message) > 0 {
			if _, err := w.Write(message); err != nil {
				return VerificationResult{}, pgerr.Wrap(pgerr.KindIo, err)
			}
		}

		counter++
		if terminal {
			break
		}
	}

	return VerificationResult{Public: &signerPolicy}, nil
}

// splitPolicy extracts segment 0's length-prefixed signer policy from
// the front of its decrypted plaintext, returning the remaining bytes
// (payload plus trailing signature).
func splitPolicy(segment []byte) (identity.Policy, []byte, error) {
	if len(segment) < wire.PolSizeSize {
		return identity.Policy{}, nil, pgerr.FormatViolation("segment shorter than policy length prefix")
	}
	polLenU32 := binary.BigEndian.Uint32(segment[:wire.PolSizeSize])
	if uint64(len(segment)) < uint64(wire.PolSizeSize)+uint64(polLenU32) {
		return identity.Policy{}, nil, pgerr.FormatViolation("segment shorter than its policy")
	}
	polEnd := wire.PolSizeSize + int(polLenU32)
	p, err := wire.UnmarshalPolicy(segment[wire.PolSizeSize:polEnd])
	if err != nil {
		return identity.Policy{}, nil, err
	}
	return p, segment[polEnd:], nil
}
