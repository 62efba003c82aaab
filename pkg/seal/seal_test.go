package seal_test

import (
	"bytes"
	"crypto/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/seal"
	"github.com/DorAlter/postguard/pkg/unseal"
	"github.com/DorAlter/postguard/pkg/wire"
)

// testPKG bundles the master key material a single test case needs to
// issue user secret keys and signing certificates without going through
// pkg/pkgserver's HTTP surface.
type testPKG struct {
	scheme ibe.Scheme
	pk     artifacts.PublicKey
	ibeMSK *ibe.MasterSecretKey
	ibsMSK ibs.MasterSecretKey
}

func newTestPKG(t *testing.T) *testPKG {
	t.Helper()
	var scheme ibe.Scheme
	ibePub, ibeMSK, err := scheme.Setup(rand.Reader)
	require.NoError(t, err)
	ibsMSK, ibsVerify, err := ibs.Setup(rand.Reader)
	require.NoError(t, err)

	return &testPKG{
		scheme: scheme,
		pk:     artifacts.PublicKey{Ibe: ibePub, Ibs: ibsVerify},
		ibeMSK: ibeMSK,
		ibsMSK: ibsMSK,
	}
}

func (k *testPKG) usk(t *testing.T, pol identity.Policy) artifacts.UserSecretKey {
	t.Helper()
	id, err := pol.DeriveIBE()
	require.NoError(t, err)
	key, err := k.scheme.ExtractUSK(k.ibeMSK, id, rand.Reader)
	require.NoError(t, err)
	return artifacts.UserSecretKey{Policy: pol, Key: key}
}

func (k *testPKG) signingKey(t *testing.T, pol identity.Policy) artifacts.SigningKey {
	t.Helper()
	id, err := pol.DeriveIBS()
	require.NoError(t, err)
	key, err := ibs.Keygen(k.ibsMSK, id, rand.Reader)
	require.NoError(t, err)
	return artifacts.SigningKey{Policy: pol, Key: key}
}

func sealAndUnseal(t *testing.T, cfg seal.Config, pkg *testPKG, recipients identity.EncryptionPolicy, signer artifacts.SigningKey, plaintext []byte) ([]byte, string, error) {
	t.Helper()
	sealer := seal.NewSealer(pkg.pk, pkg.scheme, recipients, signer, cfg)

	var container bytes.Buffer
	require.NoError(t, sealer.Seal(bytes.NewReader(plaintext), &container))

	u, err := unseal.New(pkg.pk, pkg.scheme, &container)
	require.NoError(t, err)

	var recipientID string
	for id := range u.Header().Recipients {
		recipientID = id
		break
	}
	usk := pkg.usk(t, recipients[recipientID])

	var out bytes.Buffer
	_, err = u.Unseal(recipientID, usk, &out)
	return out.Bytes(), recipientID, err
}

// payloadLengths mirrors the size classes a segmented container must
// handle correctly relative to its segment size S: empty, sub-segment,
// exactly one segment, one segment plus/minus a few bytes, several whole
// segments, and a few segments plus a remainder.
func payloadLengths(segSize int) []int {
	s := segSize
	return []int{0, 1, s / 2, s - 3, s, s + 3, 3 * s, 3*s + 16, 3*s - 17, 60000}
}

func TestSealUnsealRoundTripStreaming(t *testing.T) {
	const segSize = 256
	pkg := newTestPKG(t)
	policy := identity.Policy{Timestamp: 1000, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	recipients := identity.EncryptionPolicy{"bob": policy}
	signerPolicy := identity.Policy{Timestamp: 2000, Con: []identity.Attribute{{Type: "org", Value: strp("acme")}}}
	signer := pkg.signingKey(t, signerPolicy)

	for _, n := range payloadLengths(segSize) {
		n := n
		t.Run(lenLabel(n), func(t *testing.T) {
			plaintext := make([]byte, n)
			_, err := rand.Read(plaintext)
			require.NoError(t, err)

			cfg := seal.Config{Mode: wire.ModeStreaming, SegmentSize: segSize}
			got, _, err := sealAndUnseal(t, cfg, pkg, recipients, signer, plaintext)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)
		})
	}
}

func TestSealUnsealRoundTripInMemory(t *testing.T) {
	pkg := newTestPKG(t)
	policy := identity.Policy{Timestamp: 1000, Con: []identity.Attribute{{Type: "email", Value: strp("alice@example.org")}}}
	recipients := identity.EncryptionPolicy{"alice": policy}
	signer := pkg.signingKey(t, identity.Policy{Timestamp: 3000})

	plaintext := []byte("a short in-memory message")
	cfg := seal.Config{Mode: wire.ModeInMemory}
	got, _, err := sealAndUnseal(t, cfg, pkg, recipients, signer, plaintext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSealUnsealMultiRecipientEachDecryptsIndependently(t *testing.T) {
	pkg := newTestPKG(t)
	recipients := identity.EncryptionPolicy{
		"bob":   {Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}},
		"alice": {Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("user")}}},
		"carol": {Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("auditor")}}},
	}
	signer := pkg.signingKey(t, identity.Policy{Timestamp: 1})
	plaintext := []byte("shared content, every recipient recovers the same bytes")

	cfg := seal.Config{Mode: wire.ModeStreaming, SegmentSize: 128}
	sealer := seal.NewSealer(pkg.pk, pkg.scheme, recipients, signer, cfg)
	var container bytes.Buffer
	require.NoError(t, sealer.Seal(bytes.NewReader(plaintext), &container))
	raw := container.Bytes()

	for id, pol := range recipients {
		u, err := unseal.New(pkg.pk, pkg.scheme, bytes.NewReader(raw))
		require.NoError(t, err)
		usk := pkg.usk(t, pol)
		var out bytes.Buffer
		_, err = u.Unseal(id, usk, &out)
		require.NoError(t, err, "recipient %s failed to unseal", id)
		require.Equal(t, plaintext, out.Bytes())
	}
}

func TestUnsealWrongUserSecretKeyFails(t *testing.T) {
	pkg := newTestPKG(t)
	recipients := identity.EncryptionPolicy{
		"bob": {Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}},
	}
	signer := pkg.signingKey(t, identity.Policy{Timestamp: 1})
	plaintext := []byte("only bob can read this")

	cfg := seal.Config{Mode: wire.ModeStreaming, SegmentSize: 64}
	sealer := seal.NewSealer(pkg.pk, pkg.scheme, recipients, signer, cfg)
	var container bytes.Buffer
	require.NoError(t, sealer.Seal(bytes.NewReader(plaintext), &container))

	u, err := unseal.New(pkg.pk, pkg.scheme, &container)
	require.NoError(t, err)

	wrongUSK := pkg.usk(t, identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("guest")}}})
	var out bytes.Buffer
	_, err = u.Unseal("bob", wrongUSK, &out)
	require.Error(t, err)
}

func TestUnsealTamperedPayloadByteFails(t *testing.T) {
	container := sealedFixture(t, wire.ModeStreaming, 64)
	raw := container.sealed.Bytes()
	// Flip a byte well inside the payload region, after the header/signature.
	raw[len(raw)-10] ^= 0xFF

	u, err := unseal.New(container.pkg.pk, container.pkg.scheme, bytes.NewReader(raw))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = u.Unseal(container.recipientID, container.usk, &out)
	require.Error(t, err)
}

func TestUnsealTruncatedStreamFails(t *testing.T) {
	container := sealedFixture(t, wire.ModeStreaming, 64)
	raw := container.sealed.Bytes()
	truncated := raw[:len(raw)-5]

	u, err := unseal.New(container.pkg.pk, container.pkg.scheme, bytes.NewReader(truncated))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = u.Unseal(container.recipientID, container.usk, &out)
	require.Error(t, err)
}

func TestUnsealTamperedHeaderByteFails(t *testing.T) {
	container := sealedFixture(t, wire.ModeStreaming, 64)
	raw := container.sealed.Bytes()
	// wire.PreambleSize bytes of preamble precede the header bytes; flip
	// one inside the header itself.
	raw[wire.PreambleSize+2] ^= 0xFF

	// A tampered header either fails to parse or parses but later fails
	// header-signature verification inside Unseal; both count as rejection.
	u, err := unseal.New(container.pkg.pk, container.pkg.scheme, bytes.NewReader(raw))
	if err != nil {
		return
	}
	var out bytes.Buffer
	_, err = u.Unseal(container.recipientID, container.usk, &out)
	require.Error(t, err)
}

func TestUnsealRejectsGarbagePreamble(t *testing.T) {
	pkg := newTestPKG(t)
	_, err := unseal.New(pkg.pk, pkg.scheme, bytes.NewReader([]byte("not a postguard stream")))
	require.Error(t, err)
}

type fixture struct {
	pkg         *testPKG
	sealed      bytes.Buffer
	recipientID string
	usk         artifacts.UserSecretKey
}

func sealedFixture(t *testing.T, mode wire.ModeKind, segSize uint32) fixture {
	t.Helper()
	pkg := newTestPKG(t)
	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	recipients := identity.EncryptionPolicy{"bob": policy}
	signer := pkg.signingKey(t, identity.Policy{Timestamp: 1})
	plaintext := bytes.Repeat([]byte("x"), int(segSize)*2+7)

	cfg := seal.Config{Mode: mode, SegmentSize: segSize}
	sealer := seal.NewSealer(pkg.pk, pkg.scheme, recipients, signer, cfg)
	var out bytes.Buffer
	require.NoError(t, sealer.Seal(bytes.NewReader(plaintext), &out))

	return fixture{
		pkg:         pkg,
		sealed:      out,
		recipientID: "bob",
		usk:         pkg.usk(t, policy),
	}
}

func strp(s string) *string { return &s }

func lenLabel(n int) string {
	if n == 0 {
		return "empty"
	}
	return "len" + strconv.Itoa(n)
}
