package session

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	jwtlib.RegisteredClaims
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
	StoreID   string `json:"store_id"`
	DeviceID  string `json:"device_id,omitempty"`
}

// TokenIssuer signs and verifies HS256 terminal tokens.
type TokenIssuer struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret string, tokenTTL time.Duration) *TokenIssuer {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &TokenIssuer{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (i *TokenIssuer) Issue(user User, perm Permission, deviceID string) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.tokenTTL)
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kasirsync",
		},
		Role:      user.Role,
		CompanyID: perm.CompanyID,
		StoreID:   perm.StoreID,
		DeviceID:  deviceID,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (i *TokenIssuer) Parse(tokenStr string) (Claims, error) {
	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
