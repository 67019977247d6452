package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	TokenBearer = "bearer"
	TokenUser   = "user"
)

// Provider hands out the tokens used to refresh auth headers on queued requests.
// The bearer token comes from an OAuth2 client-credentials flow when one is
// configured, otherwise from the token repository. Tokens from the config file
// never expire; they answer whenever the repository has nothing newer.
type Provider struct {
	repo   domain.TokenRepository
	source oauth2.TokenSource
	ttl    time.Duration
	logger zerolog.Logger

	mu     sync.RWMutex
	static map[string]string
}

// NewProvider builds a provider. ctx scopes the OAuth2 HTTP client.
func NewProvider(ctx context.Context, cfg config.CredentialsConfig, repo domain.TokenRepository, logger *zerolog.Logger) *Provider {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "credentials").Logger()
	}
	p := &Provider{repo: repo, ttl: cfg.TTL, logger: l, static: make(map[string]string)}
	if cfg.OAuth2.Enabled() {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		p.source = cc.TokenSource(ctx)
	}
	return p
}

// Seed registers the statically configured tokens.
func (p *Provider) Seed(_ context.Context, cfg config.CredentialsConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.BearerToken != "" {
		p.static[TokenBearer] = cfg.BearerToken
	}
	if cfg.UserToken != "" {
		p.static[TokenUser] = cfg.UserToken
	}
	return nil
}

// SetTokens stores tokens pushed by the host; they expire after the configured
// TTL. Empty values are left untouched.
func (p *Provider) SetTokens(ctx context.Context, bearer, user string) error {
	if p.repo == nil {
		return errors.New("no token repository configured")
	}
	if bearer != "" {
		if err := p.repo.SetToken(ctx, TokenBearer, bearer, p.ttl); err != nil {
			return fmt.Errorf("store bearer token: %w", err)
		}
	}
	if user != "" {
		if err := p.repo.SetToken(ctx, TokenUser, user, p.ttl); err != nil {
			return fmt.Errorf("store user token: %w", err)
		}
	}
	return nil
}

// ClearTokens drops pushed tokens. Configured tokens stay in effect.
func (p *Provider) ClearTokens(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	for _, name := range []string{TokenBearer, TokenUser} {
		if err := p.repo.ClearToken(ctx, name); err != nil {
			return fmt.Errorf("clear %s token: %w", name, err)
		}
	}
	return nil
}

// BearerToken returns the current bearer token or an empty string.
func (p *Provider) BearerToken(ctx context.Context) string {
	if p.source != nil {
		tok, err := p.source.Token()
		if err == nil && tok.AccessToken != "" {
			return tok.AccessToken
		}
		p.logger.Warn().Err(err).Msg("oauth2 token fetch failed, using stored bearer token")
	}
	return p.lookup(ctx, TokenBearer)
}

// UserToken returns the stored user token or an empty string.
func (p *Provider) UserToken(ctx context.Context) string {
	return p.lookup(ctx, TokenUser)
}

func (p *Provider) lookup(ctx context.Context, name string) string {
	if p.repo != nil {
		tok, err := p.repo.GetToken(ctx, name)
		if err != nil {
			p.logger.Warn().Err(err).Str("token", name).Msg("token lookup failed")
		} else if tok != "" {
			return tok
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.static[name]
}
