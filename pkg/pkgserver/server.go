// Package pkgserver implements the PKG's HTTP surface (spec.md §6.3):
// public-parameter discovery, attribute-disclosure session lifecycle,
// and key issuance once a session's disclosed attributes are verified
// to contain the requested policy.
package pkgserver

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/ibs"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/pgerr"
)

// Purpose distinguishes the two reasons a caller starts a session: to
// obtain a recipient's decryption key, or a sender's signing credential.
type Purpose string

const (
	PurposeEncrypt Purpose = "encrypt"
	PurposeSign    Purpose = "sign"
)

var (
	ErrUnknownToken       = pgerr.New(pgerr.KindUnknownIdentifier, "unknown session token")
	ErrSessionNotDone     = pgerr.New(pgerr.KindConstraintViolation, "session is not done")
	ErrAttributesMismatch = pgerr.New(pgerr.KindConstraintViolation, "disclosed attributes do not satisfy the requested policy")
)

type pendingRequest struct {
	policy  identity.Policy
	purpose Purpose
}

// Server is the PKG's HTTP frontend. It holds the master key pair in
// memory only (spec.md §5: "master keys live in the PKG process");
// persistence is explicitly out of scope.
type Server struct {
	keys     artifacts.MasterKeyPair
	ibe      ibe.KEM
	provider SessionProvider
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingRequest
}

// NewServer constructs a Server around an already-generated master key
// pair. Use GenerateMasterKeyPair to create one for a fresh deployment.
func NewServer(keys artifacts.MasterKeyPair, scheme ibe.KEM, provider SessionProvider, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		keys:     keys,
		ibe:      scheme,
		provider: provider,
		log:      log,
		pending:  make(map[string]pendingRequest),
	}
}

// GenerateMasterKeyPair runs Setup for both the IBE and IBS schemes,
// producing a fresh master key pair for a new PKG deployment.
func GenerateMasterKeyPair(scheme ibe.KEM) (artifacts.MasterKeyPair, error) {
	ibePub, ibeMsk, err := scheme.Setup(rand.Reader)
	if err != nil {
		return artifacts.MasterKeyPair{}, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	ibsMsk, ibsVerify, err := ibs.Setup(rand.Reader)
	if err != nil {
		return artifacts.MasterKeyPair{}, pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	return artifacts.MasterKeyPair{
		IbePublicKey: ibePub,
		IbeSecretKey: *ibeMsk,
		IbsVerifying: ibsVerify,
		IbsMaster:    ibsMsk,
	}, nil
}

// Router builds the chi.Router serving the five §6.3 endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/v2/parameters", s.handleParameters)
	r.Post("/v2/request", s.handleRequestStart)
	r.Get("/v2/request/{token}/status", s.handleRequestStatus)
	r.Get("/v2/request/{token}/result", s.handleRequestResult)
	r.Post("/v2/request/{token}/key", s.handleKey)
	return r
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(s.keys.Public().Bytes())
}

type requestStartBody struct {
	Policy  identity.Policy `json:"policy"`
	Purpose Purpose         `json:"purpose"`
}

type requestStartResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRequestStart(w http.ResponseWriter, r *http.Request) {
	var body requestStartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if body.Purpose != PurposeEncrypt && body.Purpose != PurposeSign {
		http.Error(w, "purpose must be \"encrypt\" or \"sign\"", http.StatusBadRequest)
		return
	}

	token, err := s.provider.StartSession(body.Policy)
	if err != nil {
		http.Error(w, "failed to start session", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.pending[token] = pendingRequest{policy: body.Policy, purpose: body.Purpose}
	s.mu.Unlock()

	s.log.Info("session started", zap.String("token", token), zap.String("purpose", string(body.Purpose)))
	writeJSON(w, http.StatusOK, requestStartResponse{Token: token})
}

type requestStatusResponse struct {
	Status SessionStatus `json:"status"`
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	status, err := s.provider.Status(token)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, requestStatusResponse{Status: status})
}

type requestResultResponse struct {
	Attributes []identity.Attribute `json:"attributes"`
}

func (s *Server) handleRequestResult(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	attrs, err := s.provider.Result(token)
	if err != nil {
		http.Error(w, "session not done", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, requestResultResponse{Attributes: attrs})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	s.mu.Lock()
	req, ok := s.pending[token]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	status, err := s.provider.Status(token)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if status != SessionDone {
		http.Error(w, "session is not done", http.StatusConflict)
		return
	}

	granted, err := s.provider.Result(token)
	if err != nil {
		http.Error(w, "failed to fetch session result", http.StatusInternalServerError)
		return
	}
	if !satisfies(req.policy, granted) {
		s.log.Warn("attribute containment check failed", zap.String("token", token))
		http.Error(w, ErrAttributesMismatch.Error(), http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	switch req.purpose {
	case PurposeEncrypt:
		s.issueUserSecretKey(w, req.policy)
	case PurposeSign:
		s.issueSigningKey(w, req.policy)
	}
}

func (s *Server) issueUserSecretKey(w http.ResponseWriter, policy identity.Policy) {
	id, err := policy.DeriveIBE()
	if err != nil {
		http.Error(w, "failed to derive identity", http.StatusInternalServerError)
		return
	}
	uskKey, err := s.ibe.ExtractUSK(&s.keys.IbeSecretKey, id, rand.Reader)
	if err != nil {
		http.Error(w, "failed to extract user secret key", http.StatusInternalServerError)
		return
	}
	usk := artifacts.UserSecretKey{Policy: policy, Key: uskKey}
	w.Write(usk.Bytes())
}

func (s *Server) issueSigningKey(w http.ResponseWriter, policy identity.Policy) {
	id, err := policy.DeriveIBS()
	if err != nil {
		http.Error(w, "failed to derive identity", http.StatusInternalServerError)
		return
	}
	certKey, err := ibs.Keygen(s.keys.IbsMaster, id, rand.Reader)
	if err != nil {
		http.Error(w, "failed to issue signing certificate", http.StatusInternalServerError)
		return
	}
	sk := artifacts.SigningKey{Policy: policy, Key: certKey}
	w.Write(sk.Bytes())
}

// satisfies implements the §6.3 containment check: every conjunct the
// caller originally asked to prove must appear, with a matching value,
// among what the identity provider actually verified. A conjunct with a
// nil Value is satisfied by any disclosed attribute of that Type.
func satisfies(want identity.Policy, granted []identity.Attribute) bool {
	for _, w := range want.Con {
		if !containsAttribute(granted, w) {
			return false
		}
	}
	return true
}

func containsAttribute(granted []identity.Attribute, want identity.Attribute) bool {
	for _, g := range granted {
		if g.Type != want.Type {
			continue
		}
		if want.Value == nil {
			return true
		}
		if g.Value != nil && *g.Value == *want.Value {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
