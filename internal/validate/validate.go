// Package validate normalizes and checks user-supplied identity inputs before
// any of them reach the network.
//
// Each field helper strips the separators users commonly type, validates the
// result with a shared go-playground validator and returns either the clean
// value or a VALIDATION_ERROR with a user-facing message.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"healthid/internal/abdm/apierr"
)

// Custom validator tags.
const (
	TagAadhaar     = "aadhaar"
	TagMobile      = "in_mobile"
	TagOTP         = "otp"
	TagABHAAddress = "abha_address"
	TagABHANumber  = "abha_number"
)

var (
	aadhaarRe     = regexp.MustCompile(`^\d{12}$`)
	mobileRe      = regexp.MustCompile(`^[6-9]\d{9}$`)
	otpRe         = regexp.MustCompile(`^\d{6}$`)
	abhaAddressRe = regexp.MustCompile(`^[a-z0-9._]{8,18}$`)
	abhaNumberRe  = regexp.MustCompile(`^\d{14}$`)

	spacesAndHyphens = strings.NewReplacer(" ", "", "-", "", "\t", "")
	mobileSeparators = strings.NewReplacer(" ", "", "-", "", "+", "", "\t", "")
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	for tag, re := range map[string]*regexp.Regexp{
		TagAadhaar:     aadhaarRe,
		TagMobile:      mobileRe,
		TagOTP:         otpRe,
		TagABHAAddress: abhaAddressRe,
		TagABHANumber:  abhaNumberRe,
	} {
		if err := val.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	}
	return val
}

// Validator exposes the shared instance so other packages can reuse the tags.
func Validator() *validator.Validate {
	return v
}

// Var checks a single value against a tag expression.
func Var(value any, tag string) error {
	return v.Var(value, tag)
}

// IdentityNumber normalizes and checks a 12-digit Aadhaar number.
func IdentityNumber(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apierr.Validation("Aadhaar number is required")
	}
	clean := spacesAndHyphens.Replace(raw)
	if Var(clean, TagAadhaar) != nil {
		return "", apierr.Validation("Aadhaar must be 12 digits")
	}
	return clean, nil
}

// Mobile normalizes and checks an Indian mobile number.
func Mobile(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apierr.Validation("Mobile number is required")
	}
	clean := mobileSeparators.Replace(raw)
	if Var(clean, TagMobile) != nil {
		return "", apierr.Validation("Invalid mobile number format")
	}
	return clean, nil
}

// OTP normalizes and checks a 6-digit one-time password.
func OTP(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apierr.Validation("OTP is required")
	}
	clean := strings.Join(strings.Fields(raw), "")
	if Var(clean, TagOTP) != nil {
		return "", apierr.Validation("OTP must be 6 digits")
	}
	return clean, nil
}

// Email normalizes and checks an email address.
func Email(raw string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return "", apierr.Validation("Email is required")
	}
	if Var(clean, "email") != nil {
		return "", apierr.Validation("Invalid email format")
	}
	return clean, nil
}

// ABHAAddress normalizes (trim, lowercase) and checks an ABHA address handle.
func ABHAAddress(raw string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return "", apierr.Validation("ABHA Address is required")
	}
	if n := len(clean); n < 8 || n > 18 {
		return "", apierr.Validation("ABHA Address must be 8-18 characters")
	}
	if Var(clean, TagABHAAddress) != nil {
		return "", apierr.Validation("ABHA Address can only contain letters, numbers, dots, and underscores")
	}
	return clean, nil
}

// ABHANumber normalizes and checks a 14-digit ABHA number.
func ABHANumber(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apierr.Validation("ABHA Number is required")
	}
	clean := spacesAndHyphens.Replace(raw)
	if Var(clean, TagABHANumber) != nil {
		return "", apierr.Validation("ABHA Number must be 14 digits")
	}
	return clean, nil
}

// TransactionID checks that a transaction id was supplied.
func TransactionID(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return "", apierr.Validation("Transaction ID is required")
	}
	return clean, nil
}

// Struct validates a tagged struct and reports the first failure as a
// VALIDATION_ERROR naming the JSON field.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apierr.Validation(fe.Field() + " is invalid")
	}
	return apierr.Validation("Request is invalid")
}
