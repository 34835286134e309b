package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"peerlend/crypto"
	"peerlend/observability/logging"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

var errMissingToken = errors.New("missing bearer token")

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience []string
	Leeway   time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Authenticator verifies HS256 tokens whose subject is a ledger address.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience []string
	leeway   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthenticator validates cfg and returns a verifier.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth: signing secret required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("auth: issuer required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret:   append([]byte(nil), cfg.Secret...),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      now,
		logger:   logger,
	}, nil
}

// Verify parses token and returns the caller address carried in its subject.
func (a *Authenticator) Verify(token string) ([20]byte, error) {
	var caller [20]byte
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(a.leeway))
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return caller, err
	}
	if len(a.audience) > 0 && !audienceMatches(a.audience, claims.Audience) {
		return caller, errors.New("token audience mismatch")
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return caller, fmt.Errorf("subject: %w", err)
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		caller, err := a.Verify(token)
		if err != nil {
			a.logger.Debug("token rejected",
				logging.MaskField("authorization", token),
				slog.String("reason", err.Error()))
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func audienceMatches(expected []string, actual jwt.ClaimStrings) bool {
	for _, want := range expected {
		for _, got := range actual {
			if strings.EqualFold(got, want) {
				return true
			}
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}

// IssueToken signs a token for subject valid for ttl. lendctl uses it to mint
// development credentials.
func IssueToken(secret []byte, issuer string, subject [20]byte, audience []string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("auth: signing secret required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("auth: ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   crypto.FormatAddress(subject),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if len(audience) > 0 {
		claims.Audience = jwt.ClaimStrings(audience)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
