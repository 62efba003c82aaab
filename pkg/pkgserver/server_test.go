package pkgserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/pkgserver"
)

func newTestServer(t *testing.T) (*httptest.Server, *pkgserver.InMemoryProvider) {
	t.Helper()
	keys, err := pkgserver.GenerateMasterKeyPair(ibe.Scheme{})
	require.NoError(t, err)
	provider := pkgserver.NewInMemoryProvider()
	srv := pkgserver.NewServer(keys, ibe.Scheme{}, provider, nil)
	return httptest.NewServer(srv.Router()), provider
}

func strp(s string) *string { return &s }

func TestParametersEndpointReturnsPublicKey(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v2/parameters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	pk, err := artifacts.PublicKeyFromBytes(buf.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, pk.Ibe.Bytes)
}

func startSession(t *testing.T, baseURL string, policy identity.Policy, purpose pkgserver.Purpose) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"policy": policy, "purpose": purpose})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/v2/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.Token)
	return parsed.Token
}

func TestSessionLifecycleStartStatusResult(t *testing.T) {
	ts, provider := newTestServer(t)
	defer ts.Close()

	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeEncrypt)

	resp, err := http.Get(ts.URL + "/v2/request/" + token + "/status")
	require.NoError(t, err)
	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, "open", status.Status)

	provider.Approve(token, []identity.Attribute{{Type: "role", Value: strp("admin")}})

	resp, err = http.Get(ts.URL + "/v2/request/" + token + "/status")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, "done", status.Status)

	resp, err = http.Get(ts.URL + "/v2/request/" + token + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Attributes []identity.Attribute `json:"attributes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Attributes, 1)
	require.Equal(t, "role", result.Attributes[0].Type)
}

func TestResultBeforeDoneReturnsConflict(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeEncrypt)

	resp, err := http.Get(ts.URL + "/v2/request/" + token + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestKeyEndpointIssuesUserSecretKeyOnceSatisfied(t *testing.T) {
	ts, provider := newTestServer(t)
	defer ts.Close()

	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeEncrypt)
	provider.Approve(token, []identity.Attribute{{Type: "role", Value: strp("admin")}})

	resp, err := http.Post(ts.URL+"/v2/request/"+token+"/key", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	usk, err := artifacts.UserSecretKeyFromBytes(buf.Bytes())
	require.NoError(t, err)
	require.True(t, usk.Policy.Equal(policy))
	require.NotEmpty(t, usk.Key.Bytes)
}

func TestKeyEndpointIssuesSigningKeyForSignPurpose(t *testing.T) {
	ts, provider := newTestServer(t)
	defer ts.Close()

	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "org", Value: strp("acme")}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeSign)
	provider.Approve(token, []identity.Attribute{{Type: "org", Value: strp("acme")}})

	resp, err := http.Post(ts.URL+"/v2/request/"+token+"/key", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	sk, err := artifacts.SigningKeyFromBytes(buf.Bytes())
	require.NoError(t, err)
	require.True(t, sk.Policy.Equal(policy))
}

func TestKeyEndpointRejectsMissingDisclosedAttribute(t *testing.T) {
	ts, provider := newTestServer(t)
	defer ts.Close()

	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: strp("admin")}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeEncrypt)
	// The user discloses a different value than what the policy demands.
	provider.Approve(token, []identity.Attribute{{Type: "role", Value: strp("guest")}})

	resp, err := http.Post(ts.URL+"/v2/request/"+token+"/key", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestKeyEndpointRejectsUnknownToken(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v2/request/does-not-exist/key", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestStartRejectsInvalidPurpose(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	body, err := json.Marshal(map[string]interface{}{
		"policy":  identity.Policy{Timestamp: 1},
		"purpose": "destroy",
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/v2/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestKeyEndpointAcceptsUnconstrainedConjunctWithAnyValue(t *testing.T) {
	ts, provider := newTestServer(t)
	defer ts.Close()

	// A nil Value conjunct is satisfied by any disclosed attribute of
	// that type, regardless of which value the user actually proved.
	policy := identity.Policy{Timestamp: 1, Con: []identity.Attribute{{Type: "role", Value: nil}}}
	token := startSession(t, ts.URL, policy, pkgserver.PurposeEncrypt)
	provider.Approve(token, []identity.Attribute{{Type: "role", Value: strp("whatever")}})

	resp, err := http.Post(ts.URL+"/v2/request/"+token+"/key", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
