package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures HMAC-signed JWT verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator resolves the calling address from a bearer token. The token's
// sub claim must hold a hex address.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

type callerContextKey struct{}

// CallerFromContext returns the address attached by the auth middleware.
func CallerFromContext(ctx context.Context) (ethcommon.Address, bool) {
	if ctx == nil {
		return ethcommon.Address{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(ethcommon.Address)
	return caller, ok
}

// NewAuthenticator validates cfg. An empty secret is rejected.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil, errors.New("auth secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{cfg: cfg, secret: []byte(secret), logger: logger}, nil
}

// Middleware rejects requests without a valid token and stores the caller
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		caller, err := a.authenticate(tokenString)
		if err != nil {
			a.logger.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(tokenString string) (ethcommon.Address, error) {
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return ethcommon.Address{}, err
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		return ethcommon.Address{}, err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ethcommon.Address{}, err
	}
	sub = strings.TrimSpace(sub)
	if !ethcommon.IsHexAddress(sub) {
		return ethcommon.Address{}, errors.New("subject is not an address")
	}
	addr := ethcommon.HexToAddress(sub)
	if addr == (ethcommon.Address{}) {
		return ethcommon.Address{}, errors.New("subject is the zero address")
	}
	return addr, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		auds, err := claims.GetAudience()
		if err != nil {
			return err
		}
		for _, aud := range auds {
			if aud == audience {
				return nil
			}
		}
		return errors.New("audience mismatch")
	}
	return nil
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
