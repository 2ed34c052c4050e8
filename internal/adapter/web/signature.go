package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// VerifySignature checks a GitHub webhook signature against the raw
// request body.
//
// The expected value is "sha256=" plus the lowercase hex HMAC-SHA-256 of
// the exact bytes received; the body must not be re-serialized before
// verification because the signing scheme requires byte-for-byte
// equality. Comparison is constant-time. Returns false, never an error,
// for malformed headers or mismatches.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	if len(signatureHeader) <= len(signaturePrefix) || signatureHeader[:len(signaturePrefix)] != signaturePrefix {
		return false
	}

	received, err := hex.DecodeString(signatureHeader[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(expected, received)
}
