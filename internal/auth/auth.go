// Package auth implements the bearer-token check gating the server's
// mutating admin endpoints: bcrypt password verification against a single
// configured admin identity, and a hand-rolled HMAC-SHA256 JWT used as the
// bearer token.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrMissingToken       = errors.New("missing authorization token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Config is the single-admin-identity configuration: one username,
// password, and signing secret, loaded from the server's config.
type Config struct {
	Username  string
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

// jwtHeader is the fixed HS256/JWT header.
type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the token payload: just enough to identify the admin and bound
// the token's lifetime.
type Claims struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// Auth verifies the configured admin's credentials and issues/validates
// bearer tokens for the admin API.
type Auth struct {
	config       Config
	passwordHash []byte
}

// New hashes the configured password with bcrypt immediately, so the
// plaintext password is never retained or compared directly at runtime.
func New(cfg Config) *Auth {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if len(cfg.JWTSecret) < 32 {
		slog.Warn("admin JWT secret is shorter than 32 bytes, which is insecure")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		// Should not happen for any password bcrypt accepts; fall back to a
		// hash nothing can match, so the server still starts with login
		// permanently refused instead of panicking.
		slog.Error("failed to hash admin password", "error", err)
		hash = []byte("$2a$10$invalidhashinvalidhashinvalidhashinvalidha")
	}
	cfg.Password = ""

	return &Auth{config: cfg, passwordHash: hash}
}

// Authenticate checks username/password against the configured admin
// identity and returns a signed bearer token on success.
func (a *Auth) Authenticate(username, password string) (string, error) {
	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.config.Username)) == 1
	// Run the bcrypt comparison unconditionally, even for a wrong username,
	// so a mismatched username can't be distinguished by response time from
	// a mismatched password.
	passwordOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil

	if !usernameOK || !passwordOK {
		return "", ErrInvalidCredentials
	}
	return a.CreateToken(username)
}

// CreateToken issues a signed bearer token for subject.
func (a *Auth) CreateToken(subject string) (string, error) {
	now := time.Now()
	return a.sign(Claims{
		Sub: subject,
		Iat: now.Unix(),
		Exp: now.Add(a.config.TokenTTL).Unix(),
	})
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	if len(tokenStr) > 4096 {
		return nil, ErrInvalidToken
	}
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	headerJSON, err := base64URLDecode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding header", ErrInvalidToken)
	}
	var header jwtHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: parsing header", ErrInvalidToken)
	}
	if header.Alg != "HS256" || header.Typ != "JWT" {
		return nil, fmt.Errorf("%w: unsupported header %+v", ErrInvalidToken, header)
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(a.computeHMAC(signingInput)), []byte(parts[2])) {
		return nil, ErrInvalidToken
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding claims", ErrInvalidToken)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("%w: parsing claims", ErrInvalidToken)
	}
	if time.Now().Unix() > claims.Exp {
		return nil, ErrExpiredToken
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return &claims, nil
}

// GinRequired is gin middleware that rejects any request without a valid
// bearer token.
func GinRequired(a *Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "authentication required"})
			return
		}
		if _, err := a.ValidateToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}

func (a *Auth) sign(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("auth: marshaling header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshaling claims: %w", err)
	}
	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	return signingInput + "." + a.computeHMAC(signingInput), nil
}

func (a *Auth) computeHMAC(input string) string {
	mac := hmac.New(sha256.New, []byte(a.config.JWTSecret))
	mac.Write([]byte(input))
	return base64URLEncode(mac.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: expected Bearer scheme", ErrInvalidToken)
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
