package authn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultIssuerPrefix = "https://sts.windows.net"
	failureThreshold    = 3
	defaultCooldown     = 2 * time.Minute
)

// Config assembles the rule sets for one gateway instance. A rule set with
// zero validly-configured entries is treated as absent.
type Config struct {
	Basic       []BasicRule
	BearerToken []TokenRule
	BearerJWT   []JWTRule
	BearerOIDC  *OIDCRule
	// Cooldown is the fixed delay applied to failed authentications once the
	// failure counter passes the threshold. Zero means the default 2 minutes.
	Cooldown time.Duration
}

// Chain evaluates every configured strategy concurrently for each request.
// One strategy claiming the request authenticates it; one strategy rejecting
// it (wrong credentials, not merely "not mine") fails it. The failure counter
// is process-wide and never resets.
type Chain struct {
	log *zap.Logger

	basic  []BasicRule
	tokens []TokenRule
	jwts   []JWTRule

	oidc          []tokenVerifier
	oidcAudiences []string
	issuerPrefix  string

	cooldown  time.Duration
	failCount atomic.Int64
}

// NewChain validates the rule sets and performs OIDC issuer discovery. At
// least one strategy must be configured.
func NewChain(ctx context.Context, cfg Config, log *zap.Logger) (*Chain, error) {
	c := &Chain{log: log, cooldown: cfg.Cooldown, issuerPrefix: defaultIssuerPrefix}
	if c.cooldown == 0 {
		c.cooldown = defaultCooldown
	}
	for _, r := range cfg.Basic {
		if r.Username != "" && r.Password != "" {
			c.basic = append(c.basic, r)
		}
	}
	for _, r := range cfg.BearerToken {
		if r.Token != "" {
			c.tokens = append(c.tokens, r)
		}
	}
	for _, r := range cfg.BearerJWT {
		ok, err := r.load()
		if err != nil {
			return nil, err
		}
		if ok {
			c.jwts = append(c.jwts, r)
		}
	}
	if cfg.BearerOIDC != nil && len(cfg.BearerOIDC.TenantIssuers) > 0 {
		verifiers, err := cfg.BearerOIDC.newVerifiers(ctx)
		if err != nil {
			return nil, err
		}
		c.oidc = verifiers
		c.oidcAudiences = cfg.BearerOIDC.Audiences
		if cfg.BearerOIDC.IssuerPrefix != "" {
			c.issuerPrefix = cfg.BearerOIDC.IssuerPrefix
		}
	}
	if len(c.basic) == 0 && len(c.tokens) == 0 && len(c.jwts) == 0 && len(c.oidc) == 0 {
		return nil, errors.New("no authentication method configured or password decryption failed")
	}
	return c, nil
}

// FailureCount returns the number of rejected authentications so far.
func (c *Chain) FailureCount() int64 { return c.failCount.Load() }

// Evaluate runs every strategy for the request. It returns nil when one
// strategy authenticates it and an error otherwise. All strategies always
// run to completion; a rejection wins over any number of non-matches.
func (c *Chain) Evaluate(ctx context.Context, r *http.Request) error {
	authType, authToken := splitAuthorization(r.Header.Get("Authorization"))

	results := make([]bool, 5)
	g, gctx := errgroup.WithContext(ctx)
	eval := func(i int, fn func(context.Context) (bool, error)) {
		g.Go(func() error {
			ok, err := fn(gctx)
			results[i] = ok
			return err
		})
	}
	eval(0, func(context.Context) (bool, error) { return c.unauthenticated(r), nil })
	eval(1, func(context.Context) (bool, error) { return c.evalBasic(r.Method, authType, authToken) })
	eval(2, func(context.Context) (bool, error) { return c.evalBearerToken(r.Method, authType, authToken) })
	eval(3, func(ctx context.Context) (bool, error) { return c.evalOIDC(ctx, authType, authToken) })
	eval(4, func(context.Context) (bool, error) { return c.evalJWT(r.Method, authType, authToken) })

	if err := g.Wait(); err != nil {
		c.failCount.Add(1)
		return err
	}
	for _, ok := range results {
		if ok {
			return nil
		}
	}
	// all strategies passed on the request
	if authType == "" {
		return fmt.Errorf("%s request is missing authentication information", r.URL.Path)
	}
	return fmt.Errorf("%s request having unsupported authentication or configuration is missing", r.URL.Path)
}

// Delay reports how long the caller must wait before answering a failed
// authentication, once the failure count passed the brute-force threshold.
func (c *Chain) Delay() time.Duration {
	if c.failCount.Load() > failureThreshold {
		return c.cooldown
	}
	return 0
}

func (c *Chain) unauthenticated(r *http.Request) bool {
	return r.URL.Path == "/ping"
}

func (c *Chain) evalBasic(method, authType, authToken string) (bool, error) {
	if authType != "Basic" || len(c.basic) == 0 {
		return false, nil
	}
	username, password, ok := decodeBasic(authToken)
	if !ok || username == "" || password == "" {
		return false, fmt.Errorf("authentication failed for user %s", username)
	}
	for _, rule := range c.basic {
		if rule.matches(username, password) {
			if rule.ReadOnly && method != http.MethodGet {
				return false, nil
			}
			return true, nil
		}
	}
	return false, fmt.Errorf("authentication failed for user %s", username)
}

// evalBearerToken only claims opaque tokens: anything that parses as a JWT
// belongs to the JWT or OIDC strategies.
func (c *Chain) evalBearerToken(method, authType, authToken string) (bool, error) {
	if authType != "Bearer" || len(c.tokens) == 0 || authToken == "" {
		return false, nil
	}
	if isJWT(authToken) {
		return false, nil
	}
	for _, rule := range c.tokens {
		if rule.Token == authToken {
			if rule.ReadOnly && method != http.MethodGet {
				return false, nil
			}
			return true, nil
		}
	}
	return false, errors.New("bearer token authentication failed")
}

func (c *Chain) evalOIDC(ctx context.Context, authType, authToken string) (bool, error) {
	if authType != "Bearer" || len(c.oidc) == 0 {
		return false, nil
	}
	iss, ok := unverifiedIssuer(authToken)
	if !ok || !strings.HasPrefix(iss, c.issuerPrefix) {
		return false, nil
	}
	var lastErr error
	for _, verifier := range c.oidc {
		token, err := verifier.Verify(ctx, authToken)
		if err != nil {
			lastErr = err
			continue
		}
		if len(c.oidcAudiences) > 0 && !audienceAllowed(token.Audience, c.oidcAudiences) {
			lastErr = errors.New("token audience not accepted")
			continue
		}
		return true, nil
	}
	return false, fmt.Errorf("federated JWT authorization failed: %w", lastErr)
}

func (c *Chain) evalJWT(method, authType, authToken string) (bool, error) {
	if authType != "Bearer" || len(c.jwts) == 0 {
		return false, nil
	}
	if !isJWT(authToken) {
		return false, nil
	}
	if iss, ok := unverifiedIssuer(authToken); ok && strings.HasPrefix(iss, c.issuerPrefix) {
		return false, nil // federated token, handled by the OIDC strategy
	}
	for _, rule := range c.jwts {
		if verifyLocalJWT(rule, authToken) {
			if rule.ReadOnly && method != http.MethodGet {
				return false, nil
			}
			return true, nil
		}
	}
	return false, errors.New("JWT authentication failed")
}

func verifyLocalJWT(rule JWTRule, authToken string) bool {
	keyFunc := func(t *jwt.Token) (any, error) {
		if rule.Secret != "" {
			return []byte(rule.Secret), nil
		}
		return jwt.ParseRSAPublicKeyFromPEM(rule.publicKeyPEM)
	}
	opts := []jwt.ParserOption{jwt.WithIssuer(rule.Issuer)}
	if rule.Audience != "" {
		opts = append(opts, jwt.WithAudience(rule.Audience))
	}
	_, err := jwt.Parse(authToken, keyFunc, opts...)
	return err == nil
}

func splitAuthorization(header string) (authType, authToken string) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func decodeBasic(authToken string) (username, password string, ok bool) {
	raw, err := base64Decode(authToken)
	if err != nil {
		return "", "", false
	}
	username, password, found := strings.Cut(raw, ":")
	return username, password, found
}

func base64Decode(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func isJWT(authToken string) bool {
	_, _, err := jwt.NewParser().ParseUnverified(authToken, jwt.MapClaims{})
	return err == nil
}

func unverifiedIssuer(authToken string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(authToken, claims); err != nil {
		return "", false
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return "", false
	}
	return iss, true
}

func audienceAllowed(got, allowed []string) bool {
	for _, g := range got {
		for _, a := range allowed {
			if g == a {
				return true
			}
		}
	}
	return false
}
