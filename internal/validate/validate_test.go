package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthid/internal/abdm/apierr"
)

type fieldCase struct {
	name  string
	input string
	want  string
	ok    bool
}

func runCases(t *testing.T, fn func(string) (string, error), cases []fieldCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fn(tc.input)
			if !tc.ok {
				require.Error(t, err)
				assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIdentityNumber(t *testing.T) {
	runCases(t, IdentityNumber, []fieldCase{
		{"plain", "123412341234", "123412341234", true},
		{"spaces", "1234 1234 1234", "123412341234", true},
		{"hyphens", "1234-1234-1234", "123412341234", true},
		{"too short", "12341234123", "", false},
		{"letters", "12341234123a", "", false},
		{"empty", "", "", false},
	})
}

func TestMobile(t *testing.T) {
	runCases(t, Mobile, []fieldCase{
		{"plain", "9876543210", "9876543210", true},
		{"separators", "+98765-43210", "9876543210", true},
		{"starts with 5", "5876543210", "", false},
		{"eleven digits", "98765432101", "", false},
		{"empty", " ", "", false},
	})
}

func TestOTP(t *testing.T) {
	runCases(t, OTP, []fieldCase{
		{"plain", "123456", "123456", true},
		{"spaced", "123 456", "123456", true},
		{"five digits", "12345", "", false},
		{"letters", "12345a", "", false},
	})
}

func TestEmail(t *testing.T) {
	runCases(t, Email, []fieldCase{
		{"lowercased", " Asha.K@Example.ORG ", "asha.k@example.org", true},
		{"missing domain", "asha@", "", false},
		{"empty", "", "", false},
	})
}

func TestABHAAddress(t *testing.T) {
	runCases(t, ABHAAddress, []fieldCase{
		{"minimum length", "abcd1234", "abcd1234", true},
		{"maximum length", "abcdefghij12345678", "abcdefghij12345678", true},
		{"trimmed and lowercased", "  Asha.K_1990 ", "asha.k_1990", true},
		{"too short", "abc1234", "", false},
		{"too long", "abcdefghij123456789", "", false},
		{"hyphen", "asha-k-1990", "", false},
		{"at sign", "asha.k@sbx", "", false},
		{"empty", "", "", false},
	})
}

func TestABHANumber(t *testing.T) {
	runCases(t, ABHANumber, []fieldCase{
		{"hyphenated", "91-1234-5678-9012", "91123456789012", true},
		{"plain", "91123456789012", "91123456789012", true},
		{"thirteen digits", "9112345678901", "", false},
	})
}

func TestTransactionID(t *testing.T) {
	runCases(t, TransactionID, []fieldCase{
		{"trimmed", " a1b2-c3 ", "a1b2-c3", true},
		{"blank", "   ", "", false},
	})
}

func TestStruct_ReportsJSONFieldName(t *testing.T) {
	type req struct {
		TxnID string `json:"txnId" validate:"required"`
		OTP   string `json:"otp" validate:"required,otp"`
	}

	err := Struct(req{TxnID: "t-1", OTP: "12"})
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "otp is invalid", e.Message)

	assert.NoError(t, Struct(req{TxnID: "t-1", OTP: "123456"}))
}

func TestVar_CustomTags(t *testing.T) {
	assert.NoError(t, Var("123412341234", TagAadhaar))
	assert.Error(t, Var("1234", TagAadhaar))
	assert.NoError(t, Var("asha.k_1990", TagABHAAddress))
	assert.Error(t, Var("6123", TagMobile))
}
