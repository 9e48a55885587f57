package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is what a bearer token says about its subject. The subject is the
// user's external id.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	OrgID    int64  `json:"org_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// HMACVerifier checks HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	return parse(token, func(*jwt.Token) (interface{}, error) { return v.secret, nil }, v.options([]string{"HS256"}, ""))
}

// Sign issues a token for claims. Used by internal tooling and tests.
func (v *HMACVerifier) Sign(claims *Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *HMACVerifier) options(methods []string, audience string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

// JWKSVerifier checks RS256 tokens against a JWKS endpoint, the user pool's
// in production. Keys are refreshed in the background.
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	base     HMACVerifier
	audience string
}

func NewJWKSVerifier(ctx context.Context, url, issuer, audience string) (*JWKSVerifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("failed to load jwks from %s: %w", url, err)
	}
	return &JWKSVerifier{
		jwks:     k,
		base:     HMACVerifier{issuer: issuer, leeway: 30 * time.Second},
		audience: audience,
	}, nil
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	return parse(token, v.jwks.KeyfuncCtx(ctx), v.base.options([]string{"RS256"}, v.audience))
}

func parse(token string, keyFunc jwt.Keyfunc, opts []jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
