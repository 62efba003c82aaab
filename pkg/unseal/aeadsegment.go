package unseal

import (
	"crypto/cipher"
	"encoding/binary"

	"github.com/cloudflare/circl/hpke"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/pgerr"
	"github.com/DorAlter/postguard/pkg/wire"
)

// memoryOpener mirrors pkg/seal's memorySealer: the same hpke.AEAD_AES128GCM
// suite and base-nonce/sequence-number split (grounded in the teacher's
// opjale.go Opener), generalized from "decrypt one label" to "decrypt
// one arbitrary-length in-memory payload".
type memoryOpener struct {
	aead      cipher.AEAD
	baseNonce []byte
}

func newMemoryOpener(key, iv []byte) (memoryOpener, error) {
	aead, err := hpke.AEAD_AES128GCM.New(key)
	if err != nil {
		return memoryOpener{}, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	Nn := aead.NonceSize()
	if len(iv) < Nn {
		return memoryOpener{}, pgerr.New(pgerr.KindUnexpected, "IV shorter than AEAD nonce size")
	}
	return memoryOpener{aead: aead, baseNonce: iv[:Nn]}, nil
}

// open decrypts ciphertext against aad using sequence number zero — the
// only sequence number the in-memory mode ever produces.
func (o memoryOpener) open(ciphertext, aad []byte) ([]byte, error) {
	plaintext, err := o.aead.Open(nil, o.baseNonce, ciphertext, aad)
	if err != nil {
		return nil, pgerr.ErrWrongTag
	}
	return plaintext, nil
}

// unpackRecipientBlob splits a Header.RecipientInfo.KemCiphertext blob
// back into the native KEM ciphertext and the wrapped content key, the
// inverse of pkg/seal's packRecipientBlob.
func unpackRecipientBlob(blob []byte) (kemCiphertext, wrappedKey []byte, err error) {
	if len(blob) < 4 {
		return nil, nil, pgerr.FormatViolation("truncated recipient blob")
	}
	n := binary.BigEndian.Uint32(blob[:4])
	blob = blob[4:]
	if uint32(len(blob)) < n {
		return nil, nil, pgerr.FormatViolation("truncated KEM ciphertext")
	}
	return blob[:n], blob[n:], nil
}

// unwrapContentKey recovers the stream content key from a recipient's
// decapsulated shared secret, the inverse of pkg/seal's wrapContentKey.
func unwrapContentKey(ss ibe.SharedSecret, wrapped, aad []byte) ([]byte, error) {
	aeadCipher, err := hpke.AEAD_AES128GCM.New(ss[:wire.KeySize])
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	nonce := make([]byte, aeadCipher.NonceSize())
	contentKey, err := aeadCipher.Open(nil, nonce, wrapped, aad)
	if err != nil {
		return nil, pgerr.ErrWrongTag
	}
	return contentKey, nil
}
