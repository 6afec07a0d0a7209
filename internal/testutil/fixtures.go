package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/libs/auth"
)

func GenerateJWT(userID uuid.UUID, email string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.NewSessionToken(userID.String(), email, secret, ttl, now, "walletd")
}
