// Package artifacts names the key material that flows between a PKG,
// senders, and recipients (spec.md §6): the master key pair, the
// per-recipient extraction results, and the wire encodings that let all
// of it cross an HTTP boundary as plain bytes.
package artifacts

import (
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/identity"
)

// MasterKeyPair is the PKG's full key material: public parameters it
// publishes, and secrets it never lets leave the process boundary.
type MasterKeyPair struct {
	IbePublicKey ibe.PublicKey
	IbeSecretKey ibe.MasterSecretKey
	IbsVerifying ibs.VerifyingKey
	IbsMaster    ibs.MasterSecretKey
}

// PublicKey is the half of MasterKeyPair a sender needs: enough to
// encapsulate to a recipient's policy and verify a sender's signature,
// but nothing that lets it mint either.
type PublicKey struct {
	Ibe ibe.PublicKey
	Ibs ibs.VerifyingKey
}

// Public projects a MasterKeyPair down to the PublicKey a sender embeds
// in a sealed stream or publishes for discovery.
func (kp MasterKeyPair) Public() PublicKey {
	return PublicKey{Ibe: kp.IbePublicKey, Ibs: kp.IbsVerifying}
}

// UserSecretKey is what a recipient receives from the PKG after proving
// they satisfy a policy: the decryption half for that exact policy.
type UserSecretKey struct {
	Policy identity.Policy
	Key    ibe.UserSecretKey
}

// SigningKey is what a sender receives from the PKG after proving they
// satisfy the policy they intend to sign under: the IBS certificate for
// that identity, together with the policy it was issued for so a sender
// can always reconstruct SignatureExt.
type SigningKey struct {
	Policy identity.Policy
	Key    ibs.SecretKey
}
