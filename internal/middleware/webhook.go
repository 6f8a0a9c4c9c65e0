// Package middleware provides HTTP middleware for rewryte.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader is the request header carrying the callback signature.
const SignatureHeader = "X-Rewryte-Signature"

// signaturePrefix tags the hashing scheme, GitHub style.
const signaturePrefix = "sha256="

// CallbackHMAC returns middleware that validates HMAC-SHA256 signatures on
// inbound result callbacks. The signature is computed over the raw request
// body and compared in constant time.
//
// A missing secret is a server misconfiguration (503); a missing or wrong
// signature is a client authentication failure (401).
func CallbackHMAC(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, `{"error":"callback secret not configured"}`, http.StatusServiceUnavailable)
				return
			}

			sig := r.Header.Get(SignatureHeader)
			if sig == "" {
				http.Error(w, "missing callback signature", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(body, sig, secret) {
				http.Error(w, "invalid callback signature", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the expected signature header value for a body and secret.
// Exposed for clients and tests that produce signed callbacks.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC checks an HMAC-SHA256 signature. Accepts both raw hex and
// "sha256=<hex>" prefixed values; comparison uses hmac.Equal so a partial
// match is indistinguishable from a complete mismatch.
func verifyHMAC(payload []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, signaturePrefix)
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(sigBytes, expected)
}
