package wire

import (
	"encoding/binary"
	"sort"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/pgerr"
)

// Algorithm names the payload AEAD. Aes128Gcm is, per spec.md §9, a
// historical wire-compatibility holdover: streaming-mode payloads are
// actually processed by Deck (pkg/deck), not AES-128-GCM. The in-memory
// mode (SPEC_FULL.md §4.1) is the one mode that genuinely uses it.
type Algorithm struct {
	IV [IVSize]byte
}

// ModeKind discriminates Header.Mode's two tagged variants.
type ModeKind byte

const (
	// ModeStreaming processes the payload as Deck-wrapped segments.
	ModeStreaming ModeKind = iota
	// ModeInMemory buffers and seals the entire payload in one AEAD call
	// (SPEC_FULL.md §4.1).
	ModeInMemory
)

// Mode describes how the payload following the header is framed.
type Mode struct {
	Kind ModeKind

	// Valid only when Kind == ModeStreaming.
	SegmentSize   uint32
	SizeHintStart uint64
	SizeHintEnd   *uint64
}

// RecipientInfo is one recipient's entry in a Header: the hidden policy
// describing who they must prove to be, and a blob holding their
// u32-length-prefixed KEM ciphertext followed by the wrapped stream
// content key.
type RecipientInfo struct {
	HiddenPolicy  identity.HiddenPolicy
	KemCiphertext []byte
}

// Decaps recovers the shared secret this recipient's KEM ciphertext carries.
func (r RecipientInfo) Decaps(scheme ibe.KEM, usk ibe.UserSecretKey) (ibe.SharedSecret, error) {
	blob := r.KemCiphertext
	if len(blob) < 4 {
		return ibe.SharedSecret{}, pgerr.FormatViolation("truncated recipient blob")
	}
	n := binary.BigEndian.Uint32(blob[:4])
	if uint32(len(blob)-4) < n {
		return ibe.SharedSecret{}, pgerr.FormatViolation("truncated KEM ciphertext")
	}
	return scheme.Decaps(usk, ibe.Ciphertext{Bytes: blob[4 : 4+n]})
}

// Header is the sealed stream's recipient/algorithm/mode description.
type Header struct {
	Recipients map[string]RecipientInfo
	Algo       Algorithm
	Mode       Mode
}

// SignatureExt pairs an IBS signature with the policy it was produced
// under, so a verifier can independently re-derive the signing identity
// (spec.md §3).
type SignatureExt struct {
	Sig ibs.Signature
	Pol identity.Policy
}

func (h Header) sortedIdentifiers() []string {
	ids := make([]string, 0, len(h.Recipients))
	for id := range h.Recipients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Marshal serializes a Header to its deterministic wire form. Recipients
// are written in sorted-identifier order so the encoding — and therefore
// the header signature over it — is reproducible.
func (h Header) Marshal() []byte {
	e := &encoder{}

	ids := h.sortedIdentifiers()
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		r := h.Recipients[id]
		e.str(id)
		e.bytes(MarshalHiddenPolicy(r.HiddenPolicy))
		e.bytes(r.KemCiphertext)
	}

	e.bytes(h.Algo.IV[:])

	e.byteVal(byte(h.Mode.Kind))
	switch h.Mode.Kind {
	case ModeStreaming:
		e.u32(h.Mode.SegmentSize)
		e.u64(h.Mode.SizeHintStart)
		if h.Mode.SizeHintEnd == nil {
			e.byteVal(0)
		} else {
			e.byteVal(1)
			e.u64(*h.Mode.SizeHintEnd)
		}
	case ModeInMemory:
		// no further fields
	}

	return e.buf
}

// UnmarshalHeader parses the form Marshal produces.
func UnmarshalHeader(b []byte) (Header, error) {
	d := newDecoder(b)

	n, err := d.u32()
	if err != nil {
		return Header{}, err
	}
	recipients := make(map[string]RecipientInfo, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.str()
		if err != nil {
			return Header{}, err
		}
		hpBytes, err := d.bytes()
		if err != nil {
			return Header{}, err
		}
		hp, err := UnmarshalHiddenPolicy(hpBytes)
		if err != nil {
			return Header{}, err
		}
		ct, err := d.bytes()
		if err != nil {
			return Header{}, err
		}
		recipients[id] = RecipientInfo{HiddenPolicy: hp, KemCiphertext: ct}
	}

	ivBytes, err := d.bytes()
	if err != nil {
		return Header{}, err
	}
	if len(ivBytes) != IVSize {
		return Header{}, pgerr.FormatViolation("algorithm IV has the wrong length")
	}
	var algo Algorithm
	copy(algo.IV[:], ivBytes)

	kind, err := d.byteVal()
	if err != nil {
		return Header{}, err
	}
	mode := Mode{Kind: ModeKind(kind)}
	switch mode.Kind {
	case ModeStreaming:
		mode.SegmentSize, err = d.u32()
		if err != nil {
			return Header{}, err
		}
		mode.SizeHintStart, err = d.u64()
		if err != nil {
			return Header{}, err
		}
		hasEnd, err := d.byteVal()
		if err != nil {
			return Header{}, err
		}
		if hasEnd == 1 {
			end, err := d.u64()
			if err != nil {
				return Header{}, err
			}
			mode.SizeHintEnd = &end
		}
	case ModeInMemory:
	default:
		return Header{}, pgerr.FormatViolation("unknown mode tag")
	}

	return Header{Recipients: recipients, Algo: algo, Mode: mode}, nil
}

// Marshal serializes a SignatureExt to its deterministic wire form.
func (s SignatureExt) Marshal() []byte {
	e := &encoder{}
	e.bytes(s.Sig.Bytes())
	e.bytes(MarshalPolicy(s.Pol))
	return e.buf
}

// UnmarshalSignatureExt parses the form SignatureExt.Marshal produces.
func UnmarshalSignatureExt(b []byte) (SignatureExt, error) {
	d := newDecoder(b)
	sigBytes, err := d.bytes()
	if err != nil {
		return SignatureExt{}, err
	}
	sig, err := ibs.SignatureFromBytes(sigBytes)
	if err != nil {
		return SignatureExt{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	polBytes, err := d.bytes()
	if err != nil {
		return SignatureExt{}, err
	}
	pol, err := UnmarshalPolicy(polBytes)
	if err != nil {
		return SignatureExt{}, err
	}
	return SignatureExt{Sig: sig, Pol: pol}, nil
}

// StreamModeChecked validates a Header's Mode is ModeStreaming and that
// its segment size can hold at least the POL_SIZE_SIZE length prefix plus
// one byte, returning the segment size. The signing policy's encoded size
// is not part of this check; the Sealer rejects a policy that does not
// fit in a segment.
func StreamModeChecked(h Header) (uint32, error) {
	if h.Mode.Kind != ModeStreaming {
		return 0, pgerr.New(pgerr.KindConstraintViolation, "header is not in streaming mode")
	}
	if h.Mode.SegmentSize < PolSizeSize+1 {
		return 0, pgerr.ErrConstraintViolation
	}
	return h.Mode.SegmentSize, nil
}
