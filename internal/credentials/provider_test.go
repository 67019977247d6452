package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderStaticTokens(t *testing.T) {
	ctx := context.Background()
	cfg := config.CredentialsConfig{BearerToken: "b1", UserToken: "u1", TTL: time.Hour}
	p := NewProvider(ctx, cfg, repository.NewMemoryTokenRepository(time.Hour), nil)

	assert.Empty(t, p.BearerToken(ctx))
	require.NoError(t, p.Seed(ctx, cfg))
	assert.Equal(t, "b1", p.BearerToken(ctx))
	assert.Equal(t, "u1", p.UserToken(ctx))

	require.NoError(t, p.SetTokens(ctx, "", "u2"))
	assert.Equal(t, "b1", p.BearerToken(ctx))
	assert.Equal(t, "u2", p.UserToken(ctx))
}

func TestProviderOAuth2(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"oauth-tok","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	cfg := config.CredentialsConfig{OAuth2: config.OAuth2Config{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}}
	p := NewProvider(ctx, cfg, repository.NewMemoryTokenRepository(0), nil)

	assert.Equal(t, "oauth-tok", p.BearerToken(ctx))
	assert.Equal(t, "oauth-tok", p.BearerToken(ctx))
	assert.Equal(t, int32(1), calls.Load(), "token must be cached until expiry")
}

func TestProviderOAuth2FailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	repo := repository.NewMemoryTokenRepository(0)
	require.NoError(t, repo.SetToken(ctx, TokenBearer, "stored", 0))

	cfg := config.CredentialsConfig{OAuth2: config.OAuth2Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "s"}}
	p := NewProvider(ctx, cfg, repo, nil)
	assert.Equal(t, "stored", p.BearerToken(ctx))
}

func TestProviderWithoutRepository(t *testing.T) {
	p := NewProvider(context.Background(), config.CredentialsConfig{}, nil, nil)
	assert.Empty(t, p.UserToken(context.Background()))
}

func TestProviderConfiguredTokensOutliveTTL(t *testing.T) {
	ctx := context.Background()
	cfg := config.CredentialsConfig{BearerToken: "static-bearer", UserToken: "static-user", TTL: 30 * time.Millisecond}
	p := NewProvider(ctx, cfg, repository.NewMemoryTokenRepository(cfg.TTL), nil)
	require.NoError(t, p.Seed(ctx, cfg))

	require.NoError(t, p.SetTokens(ctx, "pushed-bearer", ""))
	assert.Equal(t, "pushed-bearer", p.BearerToken(ctx))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, "static-bearer", p.BearerToken(ctx), "pushed token expired, configured one must answer")
	assert.Equal(t, "static-user", p.UserToken(ctx))
}

func TestProviderClearTokens(t *testing.T) {
	ctx := context.Background()
	cfg := config.CredentialsConfig{BearerToken: "static-bearer"}
	p := NewProvider(ctx, cfg, repository.NewMemoryTokenRepository(0), nil)
	require.NoError(t, p.Seed(ctx, cfg))

	require.NoError(t, p.SetTokens(ctx, "pushed-bearer", "pushed-user"))
	require.NoError(t, p.ClearTokens(ctx))
	assert.Equal(t, "static-bearer", p.BearerToken(ctx))
	assert.Empty(t, p.UserToken(ctx))
}
