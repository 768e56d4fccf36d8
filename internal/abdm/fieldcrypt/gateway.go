// Package fieldcrypt encrypts sensitive request fields for the identity
// authority with RSA-OAEP (SHA-1 digest, SHA-1 MGF1), base64 encoded.
package fieldcrypt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"

	"healthid/internal/abdm/apierr"
	"healthid/internal/validate"
)

// Kind names the field being encrypted and selects its format precondition.
type Kind string

const (
	KindIdentityNumber Kind = "identityNumber"
	KindOTP            Kind = "otp"
	KindMobile         Kind = "mobile"
	KindEmail          Kind = "email"
	KindAddress        Kind = "address"
)

var preconditions = map[Kind]struct {
	tag     string
	message string
}{
	KindIdentityNumber: {validate.TagAadhaar, "Invalid Aadhaar number. Must be 12 digits."},
	KindOTP:            {validate.TagOTP, "Invalid OTP. Must be 6 digits."},
	KindMobile:         {"len=10,number", "Invalid mobile number. Must be 10 digits."},
	KindEmail:          {"email", "Invalid email address."},
	KindAddress:        {validate.TagABHAAddress, "Invalid ABHA address."},
}

// PublicKeyProvider supplies the authority's encryption key.
type PublicKeyProvider interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// Gateway checks and encrypts field values. It never returns plaintext.
type Gateway struct {
	keys   PublicKeyProvider
	random io.Reader
}

// NewGateway creates a gateway backed by keys.
func NewGateway(keys PublicKeyProvider) *Gateway {
	return &Gateway{keys: keys, random: rand.Reader}
}

// Encrypt validates plaintext against the format for kind and returns the
// base64 ciphertext. Format violations are reported before the key is touched.
func (g *Gateway) Encrypt(ctx context.Context, plaintext string, kind Kind) (string, error) {
	pre, ok := preconditions[kind]
	if !ok {
		return "", apierr.Internal(fmt.Errorf("unknown field kind %q", kind))
	}
	if plaintext == "" || validate.Var(plaintext, pre.tag) != nil {
		return "", apierr.New(apierr.KindInvalidFieldFormat, pre.message)
	}

	pub, err := g.keys.PublicKey(ctx)
	if err != nil {
		return "", apierr.Wrap(err, apierr.KindEncryptionKeyUnavailable,
			"Encryption is temporarily unavailable. Please try again later.")
	}

	ciphertext, err := rsa.EncryptOAEP(sha1.New(), g.random, pub, []byte(plaintext), nil)
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("encrypt %s: %w", kind, err))
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
