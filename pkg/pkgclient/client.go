// Package pkgclient implements a typed HTTP client for the PKG surface
// pkg/pkgserver exposes (spec.md §6.3), for use by cmd/postguard and any
// other caller that needs to obtain keys without importing net/http
// plumbing directly.
package pkgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/identity"
	"github.com/DorAlter/postguard/pkg/pgerr"
)

// Purpose mirrors pkgserver.Purpose without importing the server package.
type Purpose string

const (
	PurposeEncrypt Purpose = "encrypt"
	PurposeSign    Purpose = "sign"
)

// Client is a thin wrapper around net/http for the PKG's five endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against the PKG at baseURL (e.g.
// "https://pkg.example.org").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// Parameters fetches the PKG's public key material.
func (c *Client) Parameters(ctx context.Context) (artifacts.PublicKey, error) {
	resp, err := c.get(ctx, "/v2/parameters")
	if err != nil {
		return artifacts.PublicKey{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return artifacts.PublicKey{}, pgerr.Wrap(pgerr.KindIo, err)
	}
	return artifacts.PublicKeyFromBytes(body)
}

type startBody struct {
	Policy  identity.Policy `json:"policy"`
	Purpose Purpose         `json:"purpose"`
}

type startResponse struct {
	Token string `json:"token"`
}

// StartSession asks the PKG to begin a disclosure session for policy,
// for the given purpose, returning the session token.
func (c *Client) StartSession(ctx context.Context, policy identity.Policy, purpose Purpose) (string, error) {
	reqBody, err := json.Marshal(startBody{Policy: policy, Purpose: purpose})
	if err != nil {
		return "", pgerr.Wrap(pgerr.KindUnexpected, err)
	}
	resp, err := c.post(ctx, "/v2/request", reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	return out.Token, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// Status polls the session's current lifecycle state.
func (c *Client) Status(ctx context.Context, token string) (string, error) {
	resp, err := c.get(ctx, "/v2/request/"+token+"/status")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pgerr.Wrap(pgerr.KindFormatViolation, err)
	}
	return out.Status, nil
}

// WaitUntilDone polls Status with exponential backoff (starting at
// 250ms, capped at 5s) until it reports "done", "cancelled", or
// "timeout", or ctx is cancelled.
func (c *Client) WaitUntilDone(ctx context.Context, token string) (string, error) {
	delay := 250 * time.Millisecond
	const maxDelay = 5 * time.Second
	for {
		status, err := c.Status(ctx, token)
		if err != nil {
			return "", err
		}
		if status != "open" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", pgerr.Wrap(pgerr.KindIo, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Key fetches the key the PKG issues once a session is done and its
// disclosed attributes satisfy the originally requested policy: a
// marshaled artifacts.UserSecretKey for PurposeEncrypt, or a marshaled
// artifacts.SigningKey for PurposeSign. The caller knows which, since it
// chose the purpose when starting the session.
func (c *Client) Key(ctx context.Context, token string) ([]byte, error) {
	resp, err := c.post(ctx, "/v2/request/"+token+"/key", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindIo, err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindIo, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindIo, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, pgerr.New(pgerr.KindUnexpected, fmt.Sprintf("pkg returned %d: %s", resp.StatusCode, string(body)))
	}
	return resp, nil
}
