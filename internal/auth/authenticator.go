package auth

import (
	"crypto/subtle"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
)

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticator checks operator credentials and issues access tokens.
type Authenticator struct {
	username string
	hash     string
	secret   string
	panelID  string
	ttl      time.Duration
}

// NewAuthenticator creates an Authenticator from the security settings.
func NewAuthenticator(sec config.SecurityConfig, panelID string) *Authenticator {
	return &Authenticator{
		username: sec.Operator.Username,
		hash:     sec.Operator.PasswordHash,
		secret:   sec.JWT.Secret,
		panelID:  panelID,
		ttl:      time.Duration(sec.JWT.AccessTokenTTL) * time.Minute,
	}
}

// Login verifies the operator credentials and issues a token. Unknown
// usernames and wrong passwords both return ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (Token, error) {
	if a.username == "" || a.hash == "" {
		return Token{}, ErrNotConfigured
	}

	// The hash is always computed so both failure paths cost the same.
	ok, err := VerifyPassword(password, a.hash)
	if err != nil {
		return Token{}, err
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if !ok || !userOK {
		return Token{}, ErrInvalidCredentials
	}

	signed, expires, err := GenerateAccessToken(a.username, a.panelID, a.secret, a.ttl)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires}, nil
}

// Validate parses an access token issued by Login.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}
