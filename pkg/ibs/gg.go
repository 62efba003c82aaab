// Package ibs defines the Identity-Based Signature contract PostGuard's
// core requires (spec.md §6.1, §4.6) and a concrete reference scheme.
//
// The scheme below is modeled on Galindo & Garcia's lightweight
// pairing-free identity-based signature (hence the file name gg.go,
// matching the original Rust source's `ibs::gg` module): the PKG issues
// each identity a Schnorr-style certificate over a standard elliptic
// curve, and every message signature is itself a Schnorr signature that
// folds the certificate in. It is built on
// github.com/decred/dcrd/dcrec/secp256k1/v4, grounded on that library's
// direct use in the SAGE-X-project-sage example repo; see DESIGN.md.
package ibs

import (
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// SigBytes is the fixed serialized length of a Signature: one compressed
// point (33 bytes) plus two 32-byte scalars.
const SigBytes = 33 + 32 + 32

// Identity is a derived IBS identity: the output of Policy.DeriveIBS.
type Identity [32]byte

// MasterSecretKey is the PKG's signing master key x.
type MasterSecretKey struct {
	x secp256k1.ModNScalar
}

// VerifyingKey is the PKG's public master key X = [x]G.
type VerifyingKey struct {
	X secp256k1.PublicKey
}

// SecretKey is a recipient's per-identity certificate (R, s), issued by
// the PKG via Keygen: s*G = R + [H(id,R)]*X.
type SecretKey struct {
	R secp256k1.PublicKey
	S secp256k1.ModNScalar
}

// Signature is a message signature that embeds the signer's identity
// certificate: (R, c2, sigma).
type Signature struct {
	R     secp256k1.PublicKey
	C2    secp256k1.ModNScalar
	Sigma secp256k1.ModNScalar
}

func scalarFromWideHash(h [64]byte) secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	var b32 [32]byte
	for i, v := range h {
		b32[i%32] ^= v
	}
	s.SetBytes(&b32)
	return s
}

func hashCert(id Identity, r *secp256k1.PublicKey) secp256k1.ModNScalar {
	h := sha3.Sum512(append(append([]byte("postguard-ibs-cert-v1:"), id[:]...), r.SerializeCompressed()...))
	return scalarFromWideHash(h)
}

// Setup generates a fresh secp256k1 master signing key pair.
func Setup(rand io.Reader) (MasterSecretKey, VerifyingKey, error) {
	var seed [32]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return MasterSecretKey{}, VerifyingKey{}, err
	}
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	var msk MasterSecretKey
	msk.x.Set(&priv.Key)
	return msk, VerifyingKey{X: *priv.PubKey()}, nil
}

func randScalar(rand io.Reader) (secp256k1.ModNScalar, error) {
	var b [32]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return secp256k1.ModNScalar{}, err
	}
	var s secp256k1.ModNScalar
	s.SetBytes(&b)
	return s, nil
}

func scalarBaseMult(s *secp256k1.ModNScalar) secp256k1.PublicKey {
	var j, result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &j)
	j.ToAffine()
	result.X, result.Y, result.Z = j.X, j.Y, j.Z
	return *secp256k1.NewPublicKey(&result.X, &result.Y)
}

// Keygen issues the per-identity certificate used as that identity's
// IBS secret key: r <-$ Zq, R = [r]G, c = H(id,R), s = r + c*x (mod q).
func Keygen(msk MasterSecretKey, id Identity, rand io.Reader) (SecretKey, error) {
	r, err := randScalar(rand)
	if err != nil {
		return SecretKey{}, err
	}
	R := scalarBaseMult(&r)
	c := hashCert(id, &R)

	var cx secp256k1.ModNScalar
	cx.Set(&c).Mul(&msk.x)
	var s secp256k1.ModNScalar
	s.Set(&r).Add(&cx)

	return SecretKey{R: R, S: s}, nil
}

// Signer is an incremental transcript hasher. Update appends to the
// running transcript in place; Chain returns a branched copy with extra
// bytes appended, leaving the receiver untouched — exactly the
// clone-then-append idiom the sealer/unsealer use to bind a per-segment
// counter and terminal flag onto a shared, growing base transcript.
type Signer struct {
	buf []byte
}

// DefaultSigner returns an empty transcript, matching Signer::default().
func DefaultSigner() Signer { return Signer{} }

// Update appends b to the transcript in place.
func (s *Signer) Update(b []byte) { s.buf = append(s.buf, b...) }

// Chain returns a copy of s with b appended, without mutating s.
func (s Signer) Chain(b []byte) Signer {
	buf := make([]byte, len(s.buf), len(s.buf)+len(b))
	copy(buf, s.buf)
	return Signer{buf: append(buf, b...)}
}

// Clone returns an independent copy of the current transcript.
func (s Signer) Clone() Signer {
	buf := make([]byte, len(s.buf))
	copy(buf, s.buf)
	return Signer{buf: buf}
}

// Sign consumes the transcript, producing a signature under sk for
// identity id.
func (s Signer) Sign(sk SecretKey, id Identity, rand io.Reader) (Signature, error) {
	k, err := randScalar(rand)
	if err != nil {
		return Signature{}, err
	}
	R2 := scalarBaseMult(&k)

	c2 := hashMessage(sk.R, id, s.buf, R2)

	var c2s secp256k1.ModNScalar
	c2s.Set(&c2).Mul(&sk.S)
	var sigma secp256k1.ModNScalar
	sigma.Set(&k).Add(&c2s)

	return Signature{R: sk.R, C2: c2, Sigma: sigma}, nil
}

func hashMessage(certR secp256k1.PublicKey, id Identity, msg []byte, r2 secp256k1.PublicKey) secp256k1.ModNScalar {
	h := sha3.New512()
	h.Write(certR.SerializeCompressed())
	h.Write(id[:])
	h.Write(msg)
	h.Write(r2.SerializeCompressed())
	var sum [64]byte
	copy(sum[:], h.Sum(nil))
	return scalarFromWideHash(sum)
}

// Verifier mirrors Signer's transcript semantics on the verification side.
type Verifier struct {
	buf []byte
}

func DefaultVerifier() Verifier { return Verifier{} }

func (v *Verifier) Update(b []byte) { v.buf = append(v.buf, b...) }

func (v Verifier) Chain(b []byte) Verifier {
	buf := make([]byte, len(v.buf), len(v.buf)+len(b))
	copy(buf, v.buf)
	return Verifier{buf: append(buf, b...)}
}

func (v Verifier) Clone() Verifier {
	buf := make([]byte, len(v.buf))
	copy(buf, v.buf)
	return Verifier{buf: buf}
}

// Verify checks sig against the accumulated transcript for identity id
// under master verifying key vk.
func (v Verifier) Verify(vk VerifyingKey, sig Signature, id Identity) bool {
	c := hashCert(id, &sig.R)

	// Y = R + [c]X, the reconstructed per-identity public key.
	var cX secp256k1.JacobianPoint
	xJ := pubToJacobian(vk.X)
	secp256k1.ScalarMultNonConst(&c, &xJ, &cX)

	rJ := pubToJacobian(sig.R)
	var y secp256k1.JacobianPoint
	secp256k1.AddNonConst(&rJ, &cX, &y)
	y.ToAffine()
	Y := secp256k1.NewPublicKey(&y.X, &y.Y)

	// R2' = [sigma]G - [c2]Y
	sigmaG := pubToJacobian(scalarBaseMult(&sig.Sigma))

	var c2Y secp256k1.JacobianPoint
	yJ := pubToJacobian(*Y)
	secp256k1.ScalarMultNonConst(&sig.C2, &yJ, &c2Y)
	c2Y.X.Normalize()
	c2Y.Y.Normalize()
	c2Y.Y.Negate(1)
	c2Y.Y.Normalize()

	var r2 secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sigmaG, &c2Y, &r2)
	r2.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2.X, &r2.Y)

	want := hashMessage(sig.R, id, v.buf, *R2)
	return want.Equals(&sig.C2)
}

func pubToJacobian(p secp256k1.PublicKey) secp256k1.JacobianPoint {
	var j secp256k1.JacobianPoint
	p.AsJacobian(&j)
	return j
}

// Bytes serializes a Signature into its fixed SigBytes-length wire form:
// a compressed point followed by two 32-byte scalars.
func (sig Signature) Bytes() []byte {
	out := make([]byte, 0, SigBytes)
	out = append(out, sig.R.SerializeCompressed()...)
	c2 := sig.C2.Bytes()
	out = append(out, c2[:]...)
	sigma := sig.Sigma.Bytes()
	out = append(out, sigma[:]...)
	return out
}

// SignatureFromBytes parses the wire form Bytes produces.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SigBytes {
		return Signature{}, fmt.Errorf("ibs: signature must be %d bytes, got %d", SigBytes, len(b))
	}
	r, err := secp256k1.ParsePubKey(b[:33])
	if err != nil {
		return Signature{}, err
	}
	var c2b, sigmaB [32]byte
	copy(c2b[:], b[33:65])
	copy(sigmaB[:], b[65:97])

	var c2, sigma secp256k1.ModNScalar
	c2.SetBytes(&c2b)
	sigma.SetBytes(&sigmaB)

	return Signature{R: *r, C2: c2, Sigma: sigma}, nil
}

// Bytes serializes a SecretKey (the recipient's identity certificate).
func (sk SecretKey) Bytes() []byte {
	out := make([]byte, 0, 33+32)
	out = append(out, sk.R.SerializeCompressed()...)
	s := sk.S.Bytes()
	out = append(out, s[:]...)
	return out
}

// SecretKeyFromBytes parses the wire form Bytes produces.
func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	if len(b) != 33+32 {
		return SecretKey{}, fmt.Errorf("ibs: secret key must be %d bytes, got %d", 33+32, len(b))
	}
	r, err := secp256k1.ParsePubKey(b[:33])
	if err != nil {
		return SecretKey{}, err
	}
	var sB [32]byte
	copy(sB[:], b[33:65])
	var s secp256k1.ModNScalar
	s.SetBytes(&sB)
	return SecretKey{R: *r, S: s}, nil
}

// Bytes serializes a VerifyingKey (the PKG's master public key).
func (vk VerifyingKey) Bytes() []byte { return vk.X.SerializeCompressed() }

// VerifyingKeyFromBytes parses the wire form Bytes produces.
func VerifyingKeyFromBytes(b []byte) (VerifyingKey, error) {
	x, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return VerifyingKey{}, err
	}
	return VerifyingKey{X: *x}, nil
}

// DeriveID hashes a §4.1 domain-separated policy digest down to an
// Identity suitable for Keygen/Sign/Verify.
func DeriveID(policyHash []byte) Identity {
	h := sha3.Sum512(append([]byte("postguard-ibs-id-v1:"), policyHash...))
	var id Identity
	for i, v := range h {
		id[i%32] ^= v
	}
	return id
}
