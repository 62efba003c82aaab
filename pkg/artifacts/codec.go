package artifacts

import (
	"encoding/binary"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/pgerr"
	"github.com/DorAlter/postguard/pkg/wire"
)

func putBytes(buf []byte, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf = append(buf, n[:]...)
	return append(buf, b...)
}

func takeBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, pgerr.FormatViolation("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, pgerr.FormatViolation("truncated field")
	}
	return buf[:n], buf[n:], nil
}

// Bytes serializes the PublicKey half a sender needs for discovery.
func (pk PublicKey) Bytes() []byte {
	var buf []byte
	buf = putBytes(buf, pk.Ibe.Bytes)
	buf = putBytes(buf, pk.Ibs.Bytes())
	return buf
}

// PublicKeyFromBytes parses the form PublicKey.Bytes produces.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	ibeBytes, rest, err := takeBytes(b)
	if err != nil {
		return PublicKey{}, err
	}
	ibsBytes, rest, err := takeBytes(rest)
	if err != nil {
		return PublicKey{}, err
	}
	if len(rest) != 0 {
		return PublicKey{}, pgerr.FormatViolation("trailing bytes after public key")
	}
	vk, err := ibs.VerifyingKeyFromBytes(ibsBytes)
	if err != nil {
		return PublicKey{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	return PublicKey{Ibe: ibe.PublicKey{Bytes: ibeBytes}, Ibs: vk}, nil
}

// Bytes serializes a UserSecretKey for transport from a PKG to a
// recipient.
func (usk UserSecretKey) Bytes() []byte {
	var buf []byte
	buf = putBytes(buf, wire.MarshalPolicy(usk.Policy))
	buf = putBytes(buf, usk.Key.Bytes)
	return buf
}

// UserSecretKeyFromBytes parses the form UserSecretKey.Bytes produces.
func UserSecretKeyFromBytes(b []byte) (UserSecretKey, error) {
	polBytes, rest, err := takeBytes(b)
	if err != nil {
		return UserSecretKey{}, err
	}
	keyBytes, rest, err := takeBytes(rest)
	if err != nil {
		return UserSecretKey{}, err
	}
	if len(rest) != 0 {
		return UserSecretKey{}, pgerr.FormatViolation("trailing bytes after user secret key")
	}
	pol, err := wire.UnmarshalPolicy(polBytes)
	if err != nil {
		return UserSecretKey{}, err
	}
	return UserSecretKey{Policy: pol, Key: ibe.UserSecretKey{Bytes: keyBytes}}, nil
}

// Bytes serializes a SigningKey for transport from a PKG to a sender.
func (sk SigningKey) Bytes() []byte {
	var buf []byte
	buf = putBytes(buf, wire.MarshalPolicy(sk.Policy))
	buf = putBytes(buf, sk.Key.Bytes())
	return buf
}

// SigningKeyFromBytes parses the form SigningKey.Bytes produces.
func SigningKeyFromBytes(b []byte) (SigningKey, error) {
	polBytes, rest, err := takeBytes(b)
	if err != nil {
		return SigningKey{}, err
	}
	keyBytes, rest, err := takeBytes(rest)
	if err != nil {
		return SigningKey{}, err
	}
	if len(rest) != 0 {
		return SigningKey{}, pgerr.FormatViolation("trailing bytes after signing key")
	}
	certKey, err := ibs.SecretKeyFromBytes(keyBytes)
	if err != nil {
		return SigningKey{}, pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	pol, err := wire.UnmarshalPolicy(polBytes)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{Policy: pol, Key: certKey}, nil
}
