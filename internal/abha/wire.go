package abha

// Request bodies sent to the authority, one shape per endpoint.

const (
	loginHintAadhaar = "aadhaar"
	loginHintMobile  = "mobile"
	loginHintAddress = "abha-address"

	otpSystemAadhaar = "aadhaar"
	otpSystemABDM    = "abdm"

	authMethodOTP = "otp"

	consentCode    = "abha-enrollment"
	consentVersion = "1.4"
)

type otpRequest struct {
	TxnID     *string  `json:"txnId,omitempty"`
	Scope     []string `json:"scope"`
	LoginHint string   `json:"loginHint"`
	LoginID   string   `json:"loginId"`
	OTPSystem string   `json:"otpSystem"`
}

type otpAuth struct {
	TimeStamp string `json:"timeStamp,omitempty"`
	TxnID     string `json:"txnId"`
	OTPValue  string `json:"otpValue"`
	Mobile    string `json:"mobile,omitempty"`
}

type authData struct {
	AuthMethods []string `json:"authMethods"`
	OTP         otpAuth  `json:"otp"`
}

type consent struct {
	Code    string `json:"code"`
	Version string `json:"version"`
}

type enrolByAadhaarRequest struct {
	AuthData authData `json:"authData"`
	Consent  consent  `json:"consent"`
}

type scopedAuthRequest struct {
	Scope    []string `json:"scope"`
	AuthData authData `json:"authData"`
}

type createAddressRequest struct {
	TxnID       string `json:"txnId"`
	ABHAAddress string `json:"abhaAddress"`
	Preferred   int    `json:"preferred"`
}

func otpAuthData(otp otpAuth) authData {
	return authData{AuthMethods: []string{authMethodOTP}, OTP: otp}
}

// Reply shapes that are stable enough to decode directly.

type txnReply struct {
	TxnID   string `json:"txnId"`
	Message string `json:"message"`
}

type mobileAuthReply struct {
	TxnID      string `json:"txnId"`
	AuthResult string `json:"authResult"`
	Message    string `json:"message"`
}

type suggestionReply struct {
	TxnID           string   `json:"txnId"`
	ABHAAddressList []string `json:"abhaAddressList"`
}
