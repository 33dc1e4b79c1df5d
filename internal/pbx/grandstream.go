package pbx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/callsight/callsight-api/internal/models"
)

// ProviderGrandstream is the connection provider_type this client serves.
const ProviderGrandstream = "grandstream"

// Grandstream UCM status codes returned in the JSON envelope.
const (
	gsStatusOK             = 0
	gsStatusInvalidUser    = -1
	gsStatusWrongPassword  = -8
	gsStatusSessionInvalid = -6
	gsStatusFileNotFound   = -44
)

// GrandstreamClient implements the UCM HTTPS API: challenge, login with an
// MD5 proof, then recapi to fetch recordings by filename.
type GrandstreamClient struct {
	httpClient *http.Client
	proof      ProofFunc
	// BaseURL overrides the scheme/host derived from the connection; used by tests.
	BaseURL string
}

func NewGrandstreamClient(timeout time.Duration) *GrandstreamClient {
	return &GrandstreamClient{
		httpClient: &http.Client{Timeout: timeout},
		proof:      MD5Proof,
	}
}

type gsRequest struct {
	Request map[string]string `json:"request"`
}

type gsResponse struct {
	Status   int `json:"status"`
	Response struct {
		Challenge string `json:"challenge"`
		Cookie    string `json:"cookie"`
	} `json:"response"`
}

func (c *GrandstreamClient) apiURL(conn models.Connection) string {
	if c.BaseURL != "" {
		return c.BaseURL + "/api"
	}
	return fmt.Sprintf("https://%s:%d/api", conn.Host, conn.Port)
}

func (c *GrandstreamClient) Authenticate(ctx context.Context, conn models.Connection, secret string) (Session, error) {
	challengeResp, err := c.call(ctx, conn, map[string]string{
		"action":  "challenge",
		"user":    conn.Username,
		"version": "1.0",
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "challenge request failed")
	}
	switch {
	case challengeResp.Status == gsStatusInvalidUser:
		return Session{}, fmt.Errorf("challenge rejected: unknown user %q: %w", conn.Username, ErrAuthFailed)
	case challengeResp.Status != gsStatusOK || challengeResp.Response.Challenge == "":
		return Session{}, fmt.Errorf("challenge rejected with status %d: %w", challengeResp.Status, ErrAuthFailed)
	}

	loginResp, err := c.call(ctx, conn, map[string]string{
		"action": "login",
		"user":   conn.Username,
		"token":  c.proof(challengeResp.Response.Challenge, secret),
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "login request failed")
	}
	switch {
	case loginResp.Status == gsStatusWrongPassword || loginResp.Status == gsStatusInvalidUser:
		return Session{}, fmt.Errorf("login rejected: bad credentials (status %d): %w", loginResp.Status, ErrAuthFailed)
	case loginResp.Status != gsStatusOK || loginResp.Response.Cookie == "":
		return Session{}, fmt.Errorf("login rejected with status %d: %w", loginResp.Status, ErrAuthFailed)
	}

	return Session{Cookie: loginResp.Response.Cookie}, nil
}

func (c *GrandstreamClient) Download(ctx context.Context, conn models.Connection, sess Session, filename string) ([]byte, error) {
	body, err := json.Marshal(gsRequest{Request: map[string]string{
		"action":   "recapi",
		"cookie":   sess.Cookie,
		"filedir":  "monitor",
		"filename": filename,
	}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(conn), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "recapi request to %s failed", conn.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("recording %q: %w", filename, ErrRecordingNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recapi returned HTTP %d", resp.StatusCode)
	}

	// The UCM answers recapi with raw audio on success and a JSON envelope
	// on failure; disambiguate by content type.
	if ct := resp.Header.Get("Content-Type"); ct == "application/json" {
		var envelope gsResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, errors.Wrap(err, "failed to decode recapi error envelope")
		}
		switch envelope.Status {
		case gsStatusSessionInvalid:
			return nil, fmt.Errorf("recapi status %d: %w", envelope.Status, ErrSessionExpired)
		case gsStatusFileNotFound:
			return nil, fmt.Errorf("recording %q: %w", filename, ErrRecordingNotFound)
		default:
			return nil, fmt.Errorf("recapi failed with status %d", envelope.Status)
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read recording body")
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("recording %q is empty: %w", filename, ErrRecordingNotFound)
	}
	return audio, nil
}

func (c *GrandstreamClient) call(ctx context.Context, conn models.Connection, request map[string]string) (gsResponse, error) {
	body, err := json.Marshal(gsRequest{Request: request})
	if err != nil {
		return gsResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(conn), bytes.NewReader(body))
	if err != nil {
		return gsResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gsResponse{}, fmt.Errorf("pbx returned HTTP %d", resp.StatusCode)
	}

	var envelope gsResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return gsResponse{}, errors.Wrap(err, "failed to decode pbx response")
	}
	return envelope, nil
}
