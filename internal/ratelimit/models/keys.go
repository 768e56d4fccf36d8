package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so that a client-supplied value containing ':' cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewOTPKey builds the bucket key for OTP issuance from one client.
// All OTP-issuing routes share a bucket per client.
func NewOTPKey(clientIP string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	return "otp:" + SanitizeKeySegment(clientIP)
}
