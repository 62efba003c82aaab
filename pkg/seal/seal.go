// Package seal implements the sending half of PostGuard's sealed-stream
// pipeline (spec.md §4, §6.2): given an encryption policy, a PKG's
// public key material, and a signing credential, it produces the
// preamble/header/payload container pkg/wire and pkg/unseal agree on.
package seal

import (
	"crypto/rand"
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

// Config selects the payload framing a Sealer produces. The zero value
// is streaming mode with wire.DefaultSegmentSize segments.
type Config struct {
	// Mode, when wire.ModeInMemory, buffers the entire plaintext and
	// seals it with a single AES-128-GCM call instead of segmenting it
	// through Deck (SPEC_FULL.md §4.1) — cheaper for payloads small
	// enough to hold in memory, at the cost of streaming.
	Mode wire.ModeKind
	// SegmentSize overrides wire.DefaultSegmentSize in streaming mode.
	SegmentSize uint32
	// SizeHintStart/SizeHintEnd mirror Header.Mode's streaming size hint.
	SizeHintStart uint64
	SizeHintEnd   *uint64
}

// WithSizeHint returns a copy of cfg carrying the given size hint.
func (cfg Config) WithSizeHint(start uint64, end *uint64) Config {
	cfg.SizeHintStart = start
	cfg.SizeHintEnd = end
	return cfg
}

// Sealer holds everything needed to seal one stream: the recipients'
// policies, the PKG's public key, and the sender's signing credential.
type Sealer struct {
	pk        artifacts.PublicKey
	scheme    ibe.KEM
	policies  identity.EncryptionPolicy
	signing   artifacts.SigningKey
	cfg       Config
}

// NewSealer constructs a Sealer. scheme is the IBE KEM implementation to
// use (ibe.Scheme{} in production); policies names every recipient who
// must be able to open the stream; signing is the IBS certificate the
// caller obtained from the PKG for the policy they assert as sender.
func NewSealer(pk artifacts.PublicKey, scheme ibe.KEM, policies identity.EncryptionPolicy, signing artifacts.SigningKey, cfg Config) *Sealer {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = wire.DefaultSegmentSize
	}
	return &Sealer{pk: pk, scheme: scheme, policies: policies, signing: signing, cfg: cfg}
}

const contentKeySize = wire.KeySize + wire.IVSize // key || iv, generated fresh per stream

// buildHeader derives each recipient's IBE identity from their policy,
// encapsulates a fresh per-recipient shared secret, and uses it to wrap
// the single stream content key, so every recipient who proves their
// policy recovers the same key without learning anyone else's ciphertext.
func (s *Sealer) buildHeader(policies identity.EncryptionPolicy, contentKey []byte, algoIV [wire.IVSize]byte) (wire.Header, error) {
	recipients := make(map[string]wire.RecipientInfo, len(policies))
	for _, id := range policies.Identifiers() {
		pol := policies[id]
		ibeID, err := pol.DeriveIBE()
		if err != nil {
			return wire.Header{}, err
		}
		ct, ss, err := s.scheme.Encaps(s.pk.Ibe, ibeID, rand.Reader)
		if err != nil {
			return wire.Header{}, pgerr.Wrap(pgerr.KindUnexpected, err)
		}
		wrapped, err := wrapContentKey(ss, contentKey, []byte(id))
		if err != nil {
			return wire.Header{}, err
		}
		recipients[id] = wire.RecipientInfo{
			HiddenPolicy:  pol.ToHidden(),
			KemCiphertext: packRecipientBlob(ct.Bytes, wrapped),
		}
	}

	return wire.Header{
		Recipients: recipients,
		Algo:       wire.Algorithm{IV: algoIV},
		Mode: wire.Mode{
			Kind:          s.cfg.Mode,
			SegmentSize:   s.cfg.SegmentSize,
			SizeHintStart: s.cfg.SizeHintStart,
			SizeHintEnd:   s.cfg.SizeHintEnd,
		},
	}, nil
}

// Seal reads the entire plaintext from r and writes the sealed container
// to w: preamble, header, header signature, then the framed payload.
func (s *Sealer) Seal(r io.Reader, w io.Writer) error {
	contentKey := make([]byte, contentKeySize)
	if _, err := io.ReadFull(rand.Reader, contentKey); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	var algoIV [wire.IVSize]byte
	copy(algoIV[:], contentKey[wire.KeySize:])

	header, err := s.buildHeader(s.policies, contentKey, algoIV)
	if err != nil {
		return err
	}
	headerBytes := header.Marshal()

	signerID, err := s.signing.Policy.DeriveIBS()
	if err != nil {
		return err
	}
	headerSig, err := ibs.DefaultSigner().Chain(headerBytes).Sign(s.signing.Key, signerID, rand.Reader)
	if err != nil {
		return pgerr.Wrap(pgerr.KindUnexpected, err)
	}

	if err := writePreambleAndHeader(w, headerBytes, headerSig); err != nil {
		return err
	}

	switch s.cfg.Mode {
	case wire.ModeInMemory:
		return s.sealInMemory(r, w, contentKey[:wire.KeySize], algoIV, headerSig)
	default:
		return s.sealStreaming(r, w, contentKey[:wire.KeySize], algoIV[:wire.StreamNonceSize], signerID)
	}
}

func writePreambleAndHeader(w io.Writer, headerBytes []byte, headerSig ibs.Signature) error {
	var preamble [wire.PreambleSize]byte
	copy(preamble[0:4], wire.Prelude[:])
	binary.BigEndian.PutUint16(preamble[4:6], wire.VersionV3)
	binary.BigEndian.PutUint32(preamble[6:10], uint32(len(headerBytes)))
	if _, err := w.Write(preamble[:]); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}

	sigBytes := headerSig.Bytes()
	var sigLen [wire.SigSizeSize]byte
	binary.BigEndian.PutUint32(sigLen[:], uint32(len(sigBytes)))
	if _, err := w.Write(sigLen[:]); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	if _, err := w.Write(sigBytes); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	return nil
}

func (s *Sealer) sealInMemory(r io.Reader, w io.Writer, key []byte, iv [wire.IVSize]byte, headerSig ibs.Signature) error {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	ms, err := newMemorySealer(key, iv[:])
	if err != nil {
		return err
	}
	ext := wire.SignatureExt{Sig: headerSig, Pol: s.signing.Policy}
	extBytes := ext.Marshal()
	ct, err := ms.seal(plaintext, extBytes)
	if err != nil {
		return err
	}

	var extLen [wire.SigSizeSize]byte
	binary.BigEndian.PutUint32(extLen[:], uint32(len(extBytes)))
	if _, err := w.Write(extLen[:]); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	if _, err := w.Write(extBytes); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	if _, err := w.Write(ct); err != nil {
		return pgerr.Wrap(pgerr.KindIo, err)
	}
	return nil
}

// sealStreaming frames the payload as Deck-wrapped segments (spec.md
// §4.3, §4.4). Each segment's plaintext contribution — the policy
// prefix on segment 0, the payload read from r, and a trailing IBS
// signature over that same plaintext — is assembled and signed before
// it is ever Deck-wrapped: sign-then-encrypt, not the reverse. signer
// accumulates an incremental transcript across every segment via
// Update; Clone branches off a throwaway copy to fold in the
// per-segment counter and terminal flag without disturbing that
// running transcript.
func (s *Sealer) sealStreaming(r io.Reader, w io.Writer, key, nonce []byte, signerID ibs.Identity) error {
	d := deck.New(key, nonce)
	segBudget := int(s.cfg.SegmentSize)

	polBytes := wire.MarshalPolicy(s.signing.Policy)
	if wire.PolSizeSize+len(polBytes) >= segBudget {
		return pgerr.ErrConstraintViolation
	}

	buf := make([]byte, segBudget)
	var polLen [wire.PolSizeSize]byte
	binary.BigEndian.PutUint32(polLen[:], uint32(len(polBytes)))
	copy(buf, polLen[:])
	copy(buf[wire.PolSizeSize:], polBytes)
	payloadTail := wire.PolSizeSize + len(polBytes)

	signer := ibs.DefaultSigner()
	var counter uint32

	for {
		n, rerr := io.ReadFull(r, buf[payloadTail:segBudget])
		payloadTail += n
		terminal := rerr == io.ErrUnexpectedEOF || rerr == io.EOF
		if rerr != nil && !terminal {
			return pgerr.Wrap(pgerr.KindIo, rerr)
		}
		if payloadTail < segBudget && !terminal {
			continue
		}

		segment := buf[:payloadTail]
		signer.Update(segment)

		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		terminalByte := byte(0)
		if terminal {
			terminalByte = 1
		}
		sig, err := signer.Clone().Chain(counterBytes[:]).Chain([]byte{terminalByte}).Sign(s.signing.Key, signerID, rand.Reader)
		if err != nil {
			return pgerr.Wrap(pgerr.KindUnexpected, err)
		}

		wrapped := append(append([]byte(nil), segment...), sig.Bytes()...)
		if terminal {
			err = d.WrapLast(&wrapped)
		} else {
			err = d.Wrap(&wrapped)
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(wrapped); err != nil {
			return pgerr.Wrap(pgerr.KindIo, err)
		}

		counter++
		if terminal {
			return nil
		}
		payloadTail = 0
	}
}
