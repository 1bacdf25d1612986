// CLAUDE:SUMMARY Wallet canonicalization and JWT session tokens — HS256 generation/validation, claims extraction from HTTP requests
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadWallet is returned for wallet strings that are neither a hex
// address nor a generated guest handle.
var ErrBadWallet = errors.New("malformed wallet address")

var hexWallet = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// CanonicalWallet lowercases and trims a wallet identifier. Hex addresses
// must be exactly 20 bytes; generated guest handles pass through.
func CanonicalWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if w == "" {
		return "", nil
	}
	if strings.HasPrefix(w, "guest-") {
		return w, nil
	}
	if !hexWallet.MatchString(w) {
		return "", ErrBadWallet
	}
	return w, nil
}

type Auth struct {
	secret []byte
	expiry time.Duration
}

// Claims bind a session token to its holder.
type Claims struct {
	SessionID string `json:"session_id"`
	Wallet    string `json:"wallet,omitempty"`
	Mode      string `json:"mode"`
	jwt.RegisteredClaims
}

func New(secret string, expiryMinutes int) *Auth {
	return &Auth{
		secret: []byte(secret),
		expiry: time.Duration(expiryMinutes) * time.Minute,
	}
}

func (a *Auth) GenerateToken(sessionID, wallet, mode string) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		Wallet:    wallet,
		Mode:      mode,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ExtractClaims reads the JWT from the Authorization header (Bearer token).
// Returns nil if no valid token is present (for public endpoints).
func (a *Auth) ExtractClaims(r *http.Request) *Claims {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil
	}
	claims, err := a.ValidateToken(parts[1])
	if err != nil {
		return nil
	}
	return claims
}
