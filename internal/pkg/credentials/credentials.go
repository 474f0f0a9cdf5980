// Package credentials turns cluster descriptors into ready-to-use REST
// configurations, injecting short-lived AWS credentials where the
// cluster requires them. Nothing in this package writes derived
// credentials to disk.
package credentials

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialMissing is returned when a cloud-SSO cluster is resolved
	// without a credential set.
	ErrCredentialMissing = errors.New("no temporary credentials supplied")

	// ErrCredentialExpired is returned when the supplied credential set is
	// past its expiry.
	ErrCredentialExpired = errors.New("temporary credentials expired")

	// ErrNotAuthenticated signals that no SSO session is active and the
	// operator must sign in again.
	ErrNotAuthenticated = errors.New("not authenticated: no active SSO session")
)

// TemporaryCredentialSet holds short-lived cloud credentials obtained
// from an external SSO exchange. Held in memory only, never persisted.
type TemporaryCredentialSet struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	ExpiresAt    time.Time
}

// Expired reports whether the set must not be used anymore. Sets
// without an expiry never expire.
func (c *TemporaryCredentialSet) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Provider supplies the current temporary credential set for the active
// SSO session. Implementations never initiate the sign-in flow.
type Provider interface {
	Current(ctx context.Context) (*TemporaryCredentialSet, error)
}
