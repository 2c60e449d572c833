package pairing

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Transfer tickets gate the transfer plane. The control plane mints one for a
// paired device; the transfer listener verifies it against the host public
// key before any bytes move. The ticket carries identity only — chunk
// payloads themselves are not encrypted.

const ticketTTL = 5 * time.Minute

// MintTicket signs a short-lived transfer ticket for deviceID.
func (a *Authority) MintTicket(deviceID string) (string, error) {
	if !a.registry.Contains(deviceID) {
		return "", fmt.Errorf("device %q is not paired", deviceID)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ticketTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

// VerifyTicket validates a transfer ticket and returns the device id it was
// minted for. Expiry and signature failures are both verification errors.
func (a *Authority) VerifyTicket(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return &a.key.PublicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse ticket: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid ticket claims")
	}
	return claims.Subject, nil
}
