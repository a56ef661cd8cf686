// Package token issues and verifies the cancel tokens handed to consumers when they reserve.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalid = errors.New("cancel token invalid or expired")

const issuer = "komemarche"

type Claims struct {
	ReservationID uint64 `json:"rid"`
	jwt.RegisteredClaims
}

type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Manager signs HS256 tokens. now is consulted for iat and expiry checks.
type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{secret: []byte(secret), now: now}
}

// Issue returns a token naming reservationID that expires at expiresAt.
func (m *Manager) Issue(reservationID uint64, expiresAt time.Time) (Issued, error) {
	if reservationID == 0 {
		return Issued{}, errors.New("reservation id is required")
	}
	claims := Claims{
		ReservationID: reservationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   strconv.FormatUint(reservationID, 10),
			IssuedAt:  jwt.NewNumericDate(m.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// Parse verifies signature, issuer and expiry and returns the reservation the token names.
func (m *Manager) Parse(raw string) (uint64, error) {
	if raw == "" {
		return 0, ErrInvalid
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ReservationID == 0 {
		return 0, ErrInvalid
	}
	return claims.ReservationID, nil
}
