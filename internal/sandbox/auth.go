package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
)

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs an HS256 token for userID.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    "PASSENGER",
		"iat":     a.now().Unix(),
		"exp":     a.now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature and expiry and returns the token's user_id.
func (a *Authenticator) Verify(token string) (string, error) {
	tokenString := strings.TrimPrefix(token, "Bearer ")
	tokenJWT, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tokenJWT.Valid {
		return "", ErrTokenInvalid
	}

	claims, ok := tokenJWT.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: cannot get claims", ErrTokenInvalid)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: cannot get user_id", ErrTokenInvalid)
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return "", fmt.Errorf("%w: no exp", ErrTokenInvalid)
	}
	if a.now().Unix() > int64(exp) {
		return "", ErrTokenExpired
	}
	return userID, nil
}
