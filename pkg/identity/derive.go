package identity

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/pgerr"
)

// IdentityUnset is written in place of an attribute's value in the
// derivation hash when that conjunct carries no value constraint, so an
// absent value can never collide with a present one under hashing.
const IdentityUnset = ^uint64(0)

// deriveHash computes the domain-separated SHA3-512 digest a policy's
// IBE and IBS identities are both derived from (spec.md §4.1):
//
//	H(0 || f_0 || f'_0 || .. || f_{n-1} || f'_{n-1} || timestamp)
//	f_i  = SHA3-512(be_u64(2i+1) || be_u64(len(atype)) || atype)
//	f'_i = SHA3-512(be_u64(2i+2) || be_u64(len(value)) || value)
//
// f_i and f'_i are each their own independently-finalized hash; only
// the resulting 64-byte digests are absorbed into the outer hash, not
// the raw type/value bytes. A conjunct with no value absorbs the
// IdentityUnset sentinel in place of a length-prefixed value, so an
// absent value can never collide with a present one under hashing. Con
// is canonicalized first so that conjunct order never affects the
// result.
func deriveHash(p Policy) ([]byte, error) {
	if uint64(len(p.Con)) > MaxCon {
		return nil, pgerr.New(pgerr.KindConstraintViolation, "policy has too many conjuncts")
	}
	cp := p.canonical()

	h := sha3.New512()
	h.Write([]byte{0x00})

	var idx [8]byte
	for i, a := range cp.Con {
		f := sha3.New512()
		binary.BigEndian.PutUint64(idx[:], 2*uint64(i)+1)
		f.Write(idx[:])
		atypeBytes := []byte(a.Type)
		var atypeLen [8]byte
		binary.BigEndian.PutUint64(atypeLen[:], uint64(len(atypeBytes)))
		f.Write(atypeLen[:])
		f.Write(atypeBytes)
		h.Write(f.Sum(nil))

		fv := sha3.New512()
		binary.BigEndian.PutUint64(idx[:], 2*uint64(i)+2)
		fv.Write(idx[:])
		if a.Value == nil {
			var unset [8]byte
			binary.BigEndian.PutUint64(unset[:], IdentityUnset)
			fv.Write(unset[:])
		} else {
			valBytes := []byte(*a.Value)
			var valLen [8]byte
			binary.BigEndian.PutUint64(valLen[:], uint64(len(valBytes)))
			fv.Write(valLen[:])
			fv.Write(valBytes)
		}
		h.Write(fv.Sum(nil))
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], cp.Timestamp)
	h.Write(ts[:])

	return h.Sum(nil), nil
}

// DeriveIBE computes the IBE recipient identity a sealer must encapsulate
// to and a recipient must extract a user secret key for, in order to
// satisfy this policy.
func (p Policy) DeriveIBE() (ibe.ID, error) {
	digest, err := deriveHash(p)
	if err != nil {
		return ibe.ID{}, err
	}
	return ibe.DeriveID(digest), nil
}

// DeriveIBS computes the IBS signer identity a sealer must sign under in
// order to attest this policy.
func (p Policy) DeriveIBS() (ibs.Identity, error) {
	digest, err := deriveHash(p)
	if err != nil {
		return ibs.Identity{}, err
	}
	return ibs.DeriveID(digest), nil
}
