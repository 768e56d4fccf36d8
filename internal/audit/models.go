package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategorySecurity covers failed or suspicious identity operations.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine flow steps.
	CategoryOperations EventCategory = "operations"
)

// Action names an orchestrator operation.
type Action string

const (
	ActionEnrollmentOTPSent     Action = "enrollment_otp_sent"
	ActionEnrollmentOTPVerified Action = "enrollment_otp_verified"
	ActionMobileOTPSent         Action = "mobile_otp_sent"
	ActionMobileOTPVerified     Action = "mobile_otp_verified"
	ActionSuggestionsListed     Action = "address_suggestions_listed"
	ActionAddressCreated        Action = "address_created"
	ActionAddressChecked        Action = "address_checked"
	ActionLoginOTPSent          Action = "login_otp_sent"
	ActionLoginOTPVerified      Action = "login_otp_verified"
	ActionProfileFetched        Action = "profile_fetched"
	ActionCardFetched           Action = "card_fetched"
	ActionSearched              Action = "account_searched"
	ActionVerifyOTPSent         Action = "verify_otp_sent"
	ActionVerifyOTPConfirmed    Action = "verify_otp_confirmed"
	ActionRateLimitExceeded     Action = "rate_limit_exceeded"
)

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeExisting marks an operation that resolved to an existing account.
	OutcomeExisting Outcome = "existing"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

// Event is emitted once per orchestrator operation. It never carries an
// identity value in plaintext: Subject is a fingerprint.
type Event struct {
	ID            string        `json:"id"`
	Category      EventCategory `json:"category"`
	Timestamp     time.Time     `json:"timestamp"`
	Action        Action        `json:"action"`
	Flow          string        `json:"flow,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Subject       string        `json:"subject,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	RequestID     string        `json:"request_id,omitempty"`
	ClientIP      string        `json:"client_ip,omitempty"`
	Browser       string        `json:"browser,omitempty"`
	OS            string        `json:"os,omitempty"`
	Mobile        bool          `json:"mobile,omitempty"`
}

// Category returns the category for an event with this action and outcome.
// Failed OTP verifications and rate limiting are security relevant.
func (a Action) Category(outcome Outcome) EventCategory {
	switch {
	case a == ActionRateLimitExceeded:
		return CategorySecurity
	case outcome == OutcomeFailure && (a == ActionEnrollmentOTPVerified ||
		a == ActionMobileOTPVerified ||
		a == ActionLoginOTPVerified ||
		a == ActionVerifyOTPConfirmed):
		return CategorySecurity
	default:
		return CategoryOperations
	}
}
