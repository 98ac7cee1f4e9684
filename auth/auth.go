// auth/auth.go
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenHeader = "X-YTNotes-Token"
	issuerName  = "ytnotes"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
)

// Password holds the bcrypt hash of the shared server password. After the
// first successful bcrypt check, the digest of the accepted password is
// kept so later requests compare in constant time without rehashing.
type Password struct {
	hash     []byte
	compare  func(hash, plain []byte) error
	verified atomic.Pointer[[sha256.Size]byte]
}

func NewPassword(plain string) (*Password, error) {
	if plain == "" {
		plain = "dev"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &Password{hash: hash, compare: bcrypt.CompareHashAndPassword}, nil
}

func (p *Password) Check(plain string) error {
	if plain == "" {
		return ErrInvalidPassword
	}
	sum := sha256.Sum256([]byte(plain))
	if v := p.verified.Load(); v != nil && subtle.ConstantTimeCompare(v[:], sum[:]) == 1 {
		return nil
	}
	if p.compare(p.hash, []byte(plain)) != nil {
		return ErrInvalidPassword
	}
	p.verified.Store(&sum)
	return nil
}

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for subject and its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify returns the subject of a valid, unexpired token.
func (i *Issuer) Verify(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware accepts the shared password in TokenHeader, a bearer token
// from the Issuer, or either one in the token query parameter. The
// authenticated subject is stored in the "subject" local.
func Middleware(password *Password, issuer *Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := c.Get(TokenHeader); token != "" {
			if password.Check(token) != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
			}
			c.Locals("subject", "password")
			return c.Next()
		}

		// WebSocket clients cannot set headers; they pass ?token= instead.
		if token := c.Query("token"); token != "" {
			if looksLikeJWT(token) {
				if subject, err := issuer.Verify(token); err == nil {
					c.Locals("subject", subject)
					return c.Next()
				}
			}
			if password.Check(token) == nil {
				c.Locals("subject", "password")
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		header := c.Get(fiber.HeaderAuthorization)
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
		}
		subject, err := issuer.Verify(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
		c.Locals("subject", subject)
		return c.Next()
	}
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
