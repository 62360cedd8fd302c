package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 the instant gateway attaches to a
// successful payment: HMAC(secret, externalOrderID + "|" + paymentID)
func Sign(secret, externalOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(externalOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the expected digest in constant time
func VerifySignature(secret, externalOrderID, paymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, externalOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
