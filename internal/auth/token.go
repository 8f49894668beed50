package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenSource supplies the bearer credential attached to backend requests.
// Credential acquisition itself (login, refresh) belongs to an external
// collaborator; the engine only consumes whatever token it is handed.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource around a fixed credential string.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errors.New("auth: empty bearer token")
	}
	return string(s), nil
}

// InspectExpiry parses the credential as a JWT without verifying the
// signature and logs a warning when it is already expired. Opaque
// non-JWT tokens are ignored. A query issued with an expired token would
// otherwise burn the whole fallback chain on guaranteed 401s before the
// user learns anything useful.
func InspectExpiry(token string, logger *zap.Logger) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	if remaining := time.Until(exp.Time); remaining <= 0 {
		logger.Warn("bearer token is expired",
			zap.Time("expired_at", exp.Time),
		)
	} else if remaining < time.Minute {
		logger.Warn("bearer token expires soon",
			zap.Duration("remaining", remaining),
		)
	}
}
