package abha

import (
	"encoding/json"
	"time"
)

// Flow identifies which protocol a transaction belongs to. Each flow has a
// fixed scope; the authority rejects follow-up calls made under another one.
type Flow string

const (
	FlowEnrollment     Flow = "enrollment"
	FlowMobileVerify   Flow = "mobile-verify"
	FlowLogin          Flow = "login"
	FlowFacilityVerify Flow = "facility-verify"
)

// Scope returns the capability tags declared when the flow's transaction is minted.
func (f Flow) Scope() []string {
	switch f {
	case FlowEnrollment:
		return []string{"abha-enrol"}
	case FlowMobileVerify:
		return []string{"abha-enrol", "mobile-verify"}
	case FlowLogin:
		return []string{"abha-login", "aadhaar-verify"}
	case FlowFacilityVerify:
		return []string{"abha-verify"}
	default:
		return nil
	}
}

// Stage is the position of a transaction in its flow.
type Stage string

const (
	StageStart           Stage = "start"
	StageOTPSent         Stage = "otp_sent"
	StageOTPVerified     Stage = "otp_verified"
	StageMobilePending   Stage = "mobile_pending"
	StageAddressPending  Stage = "address_pending"
	StageAddressAssigned Stage = "address_assigned"
	StageLoggedIn        Stage = "logged_in"
	StageVerified        Stage = "verified"
)

// Terminal reports whether no further step follows.
func (s Stage) Terminal() bool {
	return s == StageAddressAssigned || s == StageLoggedIn || s == StageVerified
}

// MobileStatus is the tri-state verification flag reported by the authority.
type MobileStatus string

const (
	MobileUnknown    MobileStatus = "unknown"
	MobileUnverified MobileStatus = "unverified"
	MobileVerified   MobileStatus = "verified"
)

// Transaction is the caller's view of one in-progress operation. Its
// authoritative state lives upstream, addressed by ID; nothing here is kept
// in process memory between calls.
type Transaction struct {
	ID    string `json:"txnId"`
	Flow  Flow   `json:"flow"`
	Stage Stage  `json:"stage"`
	// Subject is a fingerprint of the identity value the flow started from.
	Subject        string       `json:"-"`
	MobileVerified MobileStatus `json:"mobileVerified"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// OTPSent is the result of any OTP issuance.
type OTPSent struct {
	Transaction Transaction
	Message     string
}

// EnrollmentVerification is the result of verifying the primary OTP.
type EnrollmentVerification struct {
	Transaction  Transaction
	Token        string
	RefreshToken string
	ExpiresIn    int64
	// Existing is set when the identity already holds an account; the
	// caller continues with profile retrieval instead of address creation.
	Existing     bool
	ABHANumber   string
	ABHAAddress  string
	Mobile       string
	MobileStatus MobileStatus
	New          bool
	Message      string
}

// MobileVerification is the result of the secondary mobile OTP round-trip.
type MobileVerification struct {
	Transaction Transaction
	Message     string
}

// AddressSuggestions lists candidate addresses, deduplicated in authority order.
type AddressSuggestions struct {
	TransactionID string
	Suggestions   []string
	Message       string
}

// Redirect tells the caller which step to perform next instead of retrying.
type Redirect string

const (
	RedirectNone    Redirect = ""
	RedirectProfile Redirect = "profile"
)

// AddressCreation is the result of assigning an address.
type AddressCreation struct {
	Transaction Transaction
	ABHAAddress string
	ABHANumber  string
	Token       string
	Existing    bool
	Redirect    Redirect
	Message     string
}

// Availability reports whether an address can still be claimed.
type Availability struct {
	Address   string
	Available bool
	Message   string
}

// LoginVerification is the result of verifying a login OTP.
type LoginVerification struct {
	Transaction  Transaction
	Token        string
	RefreshToken string
	Existing     bool
	ABHANumber   string
	ABHAAddress  string
	Message      string
}

// Profile passes the authority's account record through unchanged in Raw and
// exposes the common fields under stable names.
type Profile struct {
	ABHANumber     string
	ABHAAddress    string
	Name           string
	DateOfBirth    string
	Gender         string
	Mobile         string
	Email          string
	MobileVerified MobileStatus
	KYCVerified    bool
	Raw            json.RawMessage
}

// Card is the downloaded account card.
type Card struct {
	Data        []byte
	ContentType string
}

// SearchResult is the outcome of a lookup. Not found is a result, not an error.
type SearchResult struct {
	Found   bool
	Record  json.RawMessage
	Message string
}

// VerifyConfirmation is the result of facility-side verification.
type VerifyConfirmation struct {
	Transaction Transaction
	Verified    bool
	Details     json.RawMessage
	Message     string
}

// Health is the gateway's view of the authority.
type Health struct {
	Reachable bool
	Circuit   string
	Message   string
}
