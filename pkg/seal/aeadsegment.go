package seal

import (
	"crypto/cipher"
	"encoding/binary"

	"github.com/cloudflare/circl/hpke"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/pgerr"
	"github.com/DorAlter/postguard/pkg/wire"
)

// memorySealer drives the in-memory sealing mode's single AES-128-GCM
// call (SPEC_FULL.md §4.1): a payload small enough to buffer in full is
// sealed in one shot against the header's IV, rather than paying Deck's
// segmentation overhead. It reaches for the same hpke.AEAD_AES128GCM
// suite identifier the teacher's LESuite configures, via the cipher.AEAD
// its New constructor returns directly (opjale.go's own
// `aeadID.New(key)` call), rather than standing up a whole HPKE KEM
// exchange neither end needs here. The base-nonce/sequence-number split
// mirrors the teacher's label-encryption Sealer: calcNonce XORs a fixed
// base nonce with a running sequence number so the type is ready to seal
// more than one message under the same key without ever reusing a
// nonce, even though the in-memory mode today only ever calls it once
// per stream.
type memorySealer struct {
	aead           cipher.AEAD
	baseNonce      []byte
	sequenceNumber []byte
	nonce          []byte
}

func newMemorySealer(key, iv []byte) (memorySealer, error) {
	aead, err := hpke.AEAD_AES128GCM.New(key)
	if err != nil {
		return memorySealer{}, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	Nn := aead.NonceSize()
	if len(iv) < Nn {
		return memorySealer{}, pgerr.New(pgerr.KindUnexpected, "IV shorter than AEAD nonce size")
	}
	return memorySealer{
		aead:           aead,
		baseNonce:      iv[:Nn],
		sequenceNumber: make([]byte, Nn),
		nonce:          make([]byte, Nn),
	}, nil
}

func (s memorySealer) calcNonce() []byte {
	for i := range s.baseNonce {
		s.nonce[i] = s.baseNonce[i] ^ s.sequenceNumber[i]
	}
	return s.nonce
}

func (s memorySealer) increment() error {
	allOnes := byte(0xFF)
	for _, b := range s.sequenceNumber {
		allOnes &= b
	}
	if allOnes == 0xFF {
		return pgerr.ErrOverflow
	}
	carry := uint(1)
	for i := len(s.sequenceNumber) - 1; i >= 0; i-- {
		sum := uint(s.sequenceNumber[i]) + carry
		carry = sum >> 8
		s.sequenceNumber[i] = byte(sum & 0xFF)
	}
	return nil
}

// seal encrypts the entire payload against aad (the serialized
// SignatureExt written after the header, which carries the header
// signature) and advances the sequence number.
func (s memorySealer) seal(plaintext, aad []byte) ([]byte, error) {
	nonce := s.calcNonce()
	ct := s.aead.Seal(nil, nonce, plaintext, aad)
	if err := s.increment(); err != nil {
		return nil, err
	}
	return ct, nil
}

// wrapContentKey key-wraps the stream content key under a per-recipient
// KEM shared secret: ss is single-use (Encaps draws a fresh ephemeral
// scalar every call), so a fixed all-zero nonce is safe here — this is a
// key-wrap operation, not stream encryption, and wire.KeySize bytes of ss
// are never reused across recipients or streams.
func wrapContentKey(ss ibe.SharedSecret, contentKey, aad []byte) ([]byte, error) {
	aeadCipher, err := hpke.AEAD_AES128GCM.New(ss[:wire.KeySize])
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	nonce := make([]byte, aeadCipher.NonceSize())
	return aeadCipher.Seal(nil, nonce, contentKey, aad), nil
}

// packRecipientBlob concatenates the native KEM ciphertext and the
// wrapped content key into the single opaque blob a Header's
// RecipientInfo.KemCiphertext field carries on the wire.
func packRecipientBlob(kemCiphertext, wrappedKey []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kemCiphertext)))
	out := make([]byte, 0, 4+len(kemCiphertext)+len(wrappedKey))
	out = append(out, lenBuf[:]...)
	out = append(out, kemCiphertext...)
	out = append(out, wrappedKey...)
	return out
}
