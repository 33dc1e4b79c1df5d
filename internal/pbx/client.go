// Package pbx talks to tenant PBX systems: challenge-response authentication
// and recording download.
package pbx

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/callsight/callsight-api/internal/models"
)

// Error kinds the orchestrator uses to decide whether a retry is worth it.
// Auth failures and transport errors are transient; a missing recording is
// permanent and short-circuits the retry budget.
var (
	ErrAuthFailed        = errors.New("pbx authentication failed")
	ErrSessionExpired    = errors.New("pbx session expired")
	ErrRecordingNotFound = errors.New("recording not found")
	ErrProviderUnknown   = errors.New("unknown pbx provider type")
)

// IsPermanent reports whether retrying the failed operation is pointless.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRecordingNotFound)
}

// Session is the short-lived proof of a completed login. It is returned from
// Authenticate and threaded explicitly into Download; clients hold no ambient
// session state, so concurrent pipeline runs against the same PBX never
// interfere.
type Session struct {
	Cookie string
}

// Client is the per-provider PBX capability.
type Client interface {
	Authenticate(ctx context.Context, conn models.Connection, secret string) (Session, error)
	Download(ctx context.Context, conn models.Connection, sess Session, filename string) ([]byte, error)
}

// ProofFunc computes the provider-defined login proof from the challenge and
// the credential secret. Providers differ in the algorithm, so it is a
// pluggable strategy rather than a hard-coded hash.
type ProofFunc func(challenge, secret string) string

// MD5Proof is the reference algorithm: hex MD5 of challenge concatenated with
// the password.
func MD5Proof(challenge, secret string) string {
	sum := md5.Sum([]byte(challenge + secret))
	return hex.EncodeToString(sum[:])
}

// Registry resolves a connection's provider type to a client implementation.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients map[string]Client) *Registry {
	return &Registry{clients: clients}
}

func (r *Registry) For(providerType string) (Client, error) {
	client, ok := r.clients[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnknown, providerType)
	}
	return client, nil
}
