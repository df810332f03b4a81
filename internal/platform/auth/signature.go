package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureSecretMissing reports that no shared secret is configured. It is distinct from a
// failed verification: callers decide whether an absent secret is fatal.
var ErrSignatureSecretMissing = errors.New("auth: signature secret not configured")

// PaymentMessage builds the canonical message the gateway signs when confirming a checkout.
func PaymentMessage(gatewayOrderID, gatewayPaymentID string) string {
	return gatewayOrderID + "|" + gatewayPaymentID
}

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	return hex.EncodeToString(computeHMAC([]byte(secret), []byte(message)))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of message under secret.
// The received signature is hex-decoded first so that comparison is done on equal-length
// digests; undecodable input is compared as a zero digest rather than returned early.
func VerifySignature(secret, message, signature string) (bool, error) {
	if secret == "" {
		return false, ErrSignatureSecretMissing
	}
	expected := computeHMAC([]byte(secret), []byte(message))
	received, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(received) != len(expected) {
		received = make([]byte, len(expected))
		_ = hmac.Equal(received, expected)
		return false, nil
	}
	return hmac.Equal(received, expected), nil
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
