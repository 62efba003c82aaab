package ibe

import (
	"io"

	"github.com/cloudflare/circl/ecc/bls12381"
	"golang.org/x/crypto/sha3"
)

// Scheme is a Boneh–Franklin-style identity-based KEM over the
// asymmetric BLS12-381 pairing e: G1 x G2 -> GT.
//
// Setup:   s <-$ Zr;            Ppub = [s]G2
// Extract: usk(id) = [s]Qid,    Qid  = [H(id)]G1   (Qid in G1)
// Encaps:  r <-$ Zr;            ct   = [r]G2
//
//	ss = H'( e(Qid, Ppub)^r )  (via pairing bilinearity, computed by the
//	                              encapsulator who never learns s)
//
// Decaps:  ss = H'( e(usk, ct) )
//
// since e(Qid, Ppub)^r = e(Qid, [s]G2)^r = e([s]Qid, G2)^r = e(usk, [r]G2)
// = e(usk, ct). This is a reference construction: Qid is derived by
// hashing the identity to a scalar and scaling the G1 generator rather
// than a full hash-to-curve, which is a documented simplification (the
// IBE primitive is an out-of-scope external collaborator per spec.md §1).
type Scheme struct{}

var _ KEM = Scheme{}

func scalarFromBytes(b []byte) *bls12381.Scalar {
	s := &bls12381.Scalar{}
	s.SetBytes(reduceTo32(b))
	return s
}

// reduceTo32 folds an arbitrary-length digest down to 32 bytes via XOR,
// giving SetBytes a fixed-size input regardless of hash length.
func reduceTo32(b []byte) []byte {
	out := make([]byte, 32)
	for i, v := range b {
		out[i%32] ^= v
	}
	return out
}

func hashIdentityScalar(id ID) *bls12381.Scalar {
	h := sha3.Sum512(append([]byte("postguard-ibe-id-v1:"), id[:]...))
	return scalarFromBytes(h[:])
}

func kdf(gt *bls12381.Gt) SharedSecret {
	digest := sha3.Sum512(gt.Bytes())
	var ss SharedSecret
	copy(ss[:], digest[:SharedSecretSize])
	return ss
}

// Setup generates a fresh BLS12-381 master key pair.
func (Scheme) Setup(rand io.Reader) (PublicKey, *MasterSecretKey, error) {
	var sBytes [64]byte
	if _, err := io.ReadFull(rand, sBytes[:]); err != nil {
		return PublicKey{}, nil, err
	}
	s := scalarFromBytes(sBytes[:])

	ppub := &bls12381.G2{}
	ppub.ScalarMult(s, bls12381.G2Generator())

	return PublicKey{Bytes: ppub.Bytes()}, &MasterSecretKey{Bytes: s.Bytes()}, nil
}

func (Scheme) qid(id ID) *bls12381.G1 {
	q := &bls12381.G1{}
	q.ScalarMult(hashIdentityScalar(id), bls12381.G1Generator())
	return q
}

// ExtractUSK derives the recipient's G1 user secret key [s]Qid.
func (s Scheme) ExtractUSK(msk *MasterSecretKey, id ID, _ io.Reader) (UserSecretKey, error) {
	scalar := &bls12381.Scalar{}
	if err := scalar.SetBytes(msk.Bytes); err != nil {
		return UserSecretKey{}, err
	}

	usk := &bls12381.G1{}
	usk.ScalarMult(scalar, s.qid(id))

	return UserSecretKey{Bytes: usk.Bytes()}, nil
}

// Encaps derives a ciphertext/shared-secret pair for id using only pk.
func (s Scheme) Encaps(pk PublicKey, id ID, rand io.Reader) (Ciphertext, SharedSecret, error) {
	ppub := &bls12381.G2{}
	if err := ppub.SetBytes(pk.Bytes); err != nil {
		return Ciphertext{}, SharedSecret{}, err
	}

	var rBytes [64]byte
	if _, err := io.ReadFull(rand, rBytes[:]); err != nil {
		return Ciphertext{}, SharedSecret{}, err
	}
	r := scalarFromBytes(rBytes[:])

	ct := &bls12381.G2{}
	ct.ScalarMult(r, bls12381.G2Generator())

	base := bls12381.Pair(s.qid(id), ppub)
	shared := &bls12381.Gt{}
	shared.Exp(base, r)

	return Ciphertext{Bytes: ct.Bytes()}, kdf(shared), nil
}

// Decaps recovers the shared secret e(usk, ct).
func (Scheme) Decaps(usk UserSecretKey, ct Ciphertext) (SharedSecret, error) {
	uskPoint := &bls12381.G1{}
	if err := uskPoint.SetBytes(usk.Bytes); err != nil {
		return SharedSecret{}, err
	}
	ctPoint := &bls12381.G2{}
	if err := ctPoint.SetBytes(ct.Bytes); err != nil {
		return SharedSecret{}, err
	}

	shared := bls12381.Pair(uskPoint, ctPoint)
	return kdf(shared), nil
}

// DeriveID hashes a §4.1 domain-separated policy digest down to an ID
// suitable for Encaps/ExtractUSK.
func DeriveID(policyHash []byte) ID {
	var id ID
	copy(id[:], reduceTo32(policyHash))
	return id
}
