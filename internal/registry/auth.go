package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chinmina/imagedrift/internal/cache"
	"github.com/chinmina/imagedrift/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// PullScope returns the token scope granting pull access to image.
func PullScope(image string) string {
	return "repository:" + image + ":pull"
}

// tokenExpiryMargin is taken off an announced token lifetime so a token is
// not used in the moments before the registry starts rejecting it.
const tokenExpiryMargin = 10 * time.Second

// Token is a bearer token along with the lifetime announced by the token
// service. ExpiresIn is zero when the service did not announce one.
type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// Lifetime is how long the token may be cached.
func (t Token) Lifetime() time.Duration {
	if t.ExpiresIn > 2*tokenExpiryMargin {
		return t.ExpiresIn - tokenExpiryMargin
	}
	return t.ExpiresIn
}

// Auth issues bearer tokens for registry scopes, memoizing them per scope.
// Each checker owns its own Auth: tokens are never shared between checkers.
type Auth struct {
	tokenURL *url.URL
	service  string
	client   *http.Client
	timeout  time.Duration
	tokens   cache.TokenCache[Token]
	inflight singleflight.Group
}

// NewAuth creates an Auth that requests tokens from the configured token
// service and stores them in tokens.
func NewAuth(cfg config.RegistryConfig, client *http.Client, tokens cache.TokenCache[Token]) (*Auth, error) {
	base, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse registry auth URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Auth{
		tokenURL: base.JoinPath("token"),
		service:  cfg.Service,
		client:   client,
		timeout:  cfg.RequestTimeout,
		tokens:   tokens,
	}, nil
}

// tokenResponse is the token service reply. Token servers may answer with
// either field; access_token takes precedence.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// AccessToken returns a bearer token for scope. A cached token is returned
// without a network call. Concurrent requests for the same uncached scope
// share a single token request. Failures are reported as *AuthError and are
// never cached.
func (a *Auth) AccessToken(ctx context.Context, scope string) (string, error) {
	token, found, err := a.tokens.Get(ctx, scope)
	if err != nil {
		// a broken cache only costs an extra token request
		log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("token cache lookup failed")
	} else if found {
		return token.Value, nil
	}

	// The shared request outlives any single caller's cancellation, while
	// still carrying its values (logger, trace). A cancelled caller stops
	// waiting for it without cancelling it for the others.
	shared := context.WithoutCancel(ctx)
	flight := a.inflight.DoChan(scope, func() (any, error) {
		// a flight that finished just before this one started may already
		// have stored the token
		if token, found, err := a.tokens.Get(shared, scope); err == nil && found {
			return token, nil
		}

		token, err := a.requestToken(shared, scope)
		if err != nil {
			return Token{}, err
		}

		if err := a.tokens.Set(shared, scope, token); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("token cache write failed")
		}

		return token, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).Value, nil
	case <-ctx.Done():
		return "", &AuthError{Scope: scope, Err: ctx.Err()}
	}
}

// Invalidate forgets the token for scope, e.g. after the registry rejected
// it. The next AccessToken call for the scope requests a new token.
func (a *Auth) Invalidate(ctx context.Context, scope string) {
	if err := a.tokens.Invalidate(ctx, scope); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("token cache invalidation failed")
	}
}

func (a *Auth) requestToken(ctx context.Context, scope string) (Token, error) {
	u := *a.tokenURL
	q := u.Query()
	q.Set("scope", scope)
	q.Set("service", a.service)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Token{}, &AuthError{Scope: scope, Err: err}
	}

	res, body, err := do(ctx, a.client, a.timeout, req, maxTokenBodyBytes)
	if err != nil {
		authErr := &AuthError{Scope: scope, Err: err}
		if res != nil {
			authErr.StatusCode = res.StatusCode
		}
		return Token{}, authErr
	}

	if !success(res) {
		return Token{}, &AuthError{Scope: scope, StatusCode: res.StatusCode, Err: statusError(res, body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, &AuthError{Scope: scope, StatusCode: res.StatusCode, Err: fmt.Errorf("could not parse token response: %w", err)}
	}

	token := tr.AccessToken
	if token == "" {
		token = tr.Token
	}
	if token == "" {
		return Token{}, &AuthError{Scope: scope, StatusCode: res.StatusCode, Err: errors.New("token response contained no access_token")}
	}

	issued := Token{Value: token}
	if tr.ExpiresIn > 0 {
		issued.ExpiresIn = time.Duration(tr.ExpiresIn) * time.Second
	}

	log.Ctx(ctx).Debug().Str("scope", scope).Dur("expires_in", issued.ExpiresIn).Msg("issued registry token")

	return issued, nil
}
