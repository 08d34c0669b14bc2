package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// tokenValidator checks HMAC-signed bearer tokens. Expiry is mandatory; issuer
// and audience are enforced when configured.
type tokenValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// newTokenValidator returns nil when no secret is configured, which leaves the
// management endpoints open.
func newTokenValidator(cfg config.ManagementAuthConfig) *tokenValidator {
	if cfg.JWTSecret == "" {
		return nil
	}
	return &tokenValidator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

func (v *tokenValidator) validate(raw string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authenticate answers 401 unless the request carries a valid
// "Authorization: Bearer <token>" header. The token subject is added to the
// request's log fields.
func authenticate(validator *tokenValidator, log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := validator.validate(strings.TrimSpace(token))
			if err != nil {
				log.WithContext(r.Context()).Debug("management request rejected", "path", r.URL.Path, "error", err)
				unauthorized(w, "invalid token")
				return
			}

			ctx := logger.ContextWithFields(r.Context(), "subject", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: message})
}
