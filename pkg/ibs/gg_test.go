package ibs

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testIdentity(b byte) Identity {
	var id Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func TestSignVerifyRoundTrip(t *testing.T) {
	msk, vk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	id := testIdentity(0x01)
	sk, err := Keygen(msk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}

	sig, err := DefaultSigner().Chain([]byte("hello, postguard")).Sign(sk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !DefaultVerifier().Chain([]byte("hello, postguard")).Verify(vk, sig, id) {
		t.Fatalf("valid signature failed to verify")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	msk, vk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	id := testIdentity(0x02)
	sk, err := Keygen(msk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}

	sig, err := DefaultSigner().Chain([]byte("original message")).Sign(sk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if DefaultVerifier().Chain([]byte("tampered message")).Verify(vk, sig, id) {
		t.Fatalf("signature verified against a different message")
	}
}

func TestVerifyRejectsWrongIdentity(t *testing.T) {
	msk, vk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	signerID := testIdentity(0x03)
	sk, err := Keygen(msk, signerID, rand.Reader)
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}

	sig, err := DefaultSigner().Chain([]byte("message")).Sign(sk, signerID, rand.Reader)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	otherID := testIdentity(0x04)
	if DefaultVerifier().Chain([]byte("message")).Verify(vk, sig, otherID) {
		t.Fatalf("signature verified under an identity that did not sign it")
	}
}

func TestSignatureBytesRoundTrip(t *testing.T) {
	msk, vk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	id := testIdentity(0x05)
	sk, err := Keygen(msk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}
	sig, err := DefaultSigner().Chain([]byte("round trip")).Sign(sk, id, rand.Reader)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	b := sig.Bytes()
	if len(b) != SigBytes {
		t.Fatalf("Bytes length = %d, want %d", len(b), SigBytes)
	}
	got, err := SignatureFromBytes(b)
	if err != nil {
		t.Fatalf("SignatureFromBytes: %v", err)
	}
	if !DefaultVerifier().Chain([]byte("round trip")).Verify(vk, got, id) {
		t.Fatalf("signature parsed from Bytes failed to verify")
	}
}

func TestVerifyingKeyBytesRoundTrip(t *testing.T) {
	_, vk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	got, err := VerifyingKeyFromBytes(vk.Bytes())
	if err != nil {
		t.Fatalf("VerifyingKeyFromBytes: %v", err)
	}
	if !bytes.Equal(got.X.SerializeCompressed(), vk.X.SerializeCompressed()) {
		t.Fatalf("verifying key did not round-trip")
	}
}
