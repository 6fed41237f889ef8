package uiserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chargesim/backend/services/station-simulator/internal/ws"
)

// Authentication types.
const (
	AuthNone   = "none"
	AuthBasic  = "basic-auth"
	AuthBearer = "bearer"
)

var (
	errMissingCredentials = errors.New("uiserver: missing credentials")
	errInvalidCredentials = errors.New("uiserver: invalid credentials")
)

// AuthConfig selects how operators authenticate. Password may be a bcrypt hash.
type AuthConfig struct {
	Type     string `yaml:"type" env:"UI_AUTH_TYPE"`
	Username string `yaml:"username" env:"UI_AUTH_USERNAME"`
	Password string `yaml:"password" env:"UI_AUTH_PASSWORD"`
	Secret   string `yaml:"secret" env:"UI_AUTH_SECRET"`
}

// NewAuthorizer returns nil when authentication is disabled.
func NewAuthorizer(cfg AuthConfig) (ws.Authorizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", AuthNone:
		return nil, nil
	case AuthBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("uiserver: basic-auth needs username and password")
		}
		return basicAuthorizer(cfg.Username, cfg.Password), nil
	case AuthBearer:
		if cfg.Secret == "" {
			return nil, errors.New("uiserver: bearer needs a secret")
		}
		return bearerAuthorizer([]byte(cfg.Secret)), nil
	default:
		return nil, fmt.Errorf("uiserver: unknown authentication type %q", cfg.Type)
	}
}

func basicAuthorizer(username, password string) ws.Authorizer {
	hashed := isBcryptHash(password)
	return func(r *http.Request) error {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return errMissingCredentials
		}
		if subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 {
			return errInvalidCredentials
		}
		if hashed {
			if err := bcrypt.CompareHashAndPassword([]byte(password), []byte(pass)); err != nil {
				return errInvalidCredentials
			}
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			return errInvalidCredentials
		}
		return nil
	}
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

func bearerAuthorizer(secret []byte) ws.Authorizer {
	return func(r *http.Request) error {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			return errMissingCredentials
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return errInvalidCredentials
		}
		token, err := jwt.Parse(strings.TrimSpace(parts[1]), func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenInvalidClaims
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return fmt.Errorf("%w: %v", errInvalidCredentials, err)
		}
		return nil
	}
}
