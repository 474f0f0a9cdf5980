package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// AWSProvider reads the current session credentials from the AWS shared
// configuration (an SSO profile refreshed by an external sign-in flow).
// Retrieved sets are reused until shortly before they expire.
type AWSProvider struct {
	region  string
	profile string
	logger  *slog.Logger

	mu     sync.Mutex
	cached *TemporaryCredentialSet
}

// expirySlack is how long before the real expiry a cached set is
// considered stale, so callers never receive a set about to lapse
// mid-request.
const expirySlack = 2 * time.Minute

// NewAWSProvider creates a provider for the given region and shared
// config profile. An empty profile uses the default credential chain.
func NewAWSProvider(region, profile string, logger *slog.Logger) *AWSProvider {
	return &AWSProvider{
		region:  region,
		profile: profile,
		logger:  logger,
	}
}

// Current returns the active session's credentials, retrieving a fresh
// set when the cached one is near expiry.
func (p *AWSProvider) Current(ctx context.Context) (*TemporaryCredentialSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.cached != nil && !p.cached.Expired(now.Add(expirySlack)) {
		return p.cached, nil
	}

	creds, err := p.retrieve(ctx)
	if err != nil {
		return nil, err
	}

	p.cached = creds
	p.logger.Info("Refreshed SSO credentials", "expiresAt", creds.ExpiresAt)

	return creds, nil
}

func (p *AWSProvider) retrieve(ctx context.Context) (*TemporaryCredentialSet, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(p.region),
	}
	if p.profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	set := &TemporaryCredentialSet{
		AccessKey:    creds.AccessKeyID,
		SecretKey:    creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
	}
	if creds.CanExpire {
		set.ExpiresAt = creds.Expires
	}

	if set.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: session expired at %s", ErrNotAuthenticated, set.ExpiresAt)
	}

	return set, nil
}

var _ aws.CredentialsProvider = credentialsAdapter{}

// credentialsAdapter exposes a TemporaryCredentialSet as an AWS SDK
// credentials provider for signing.
type credentialsAdapter struct {
	set *TemporaryCredentialSet
}

func (a credentialsAdapter) Retrieve(context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     a.set.AccessKey,
		SecretAccessKey: a.set.SecretKey,
		SessionToken:    a.set.SessionToken,
		Expires:         a.set.ExpiresAt,
		CanExpire:       !a.set.ExpiresAt.IsZero(),
	}, nil
}
