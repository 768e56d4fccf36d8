package handler

import (
	"encoding/base64"
	"encoding/json"

	"healthid/internal/abha"
)

const msgCardFetched = "ABHA card fetched successfully"

type OTPSentResponse struct {
	TxnID   string     `json:"txnId"`
	Flow    abha.Flow  `json:"flow"`
	Stage   abha.Stage `json:"stage"`
	Message string     `json:"message"`
}

func toOTPSent(r *abha.OTPSent) OTPSentResponse {
	return OTPSentResponse{
		TxnID:   r.Transaction.ID,
		Flow:    r.Transaction.Flow,
		Stage:   r.Transaction.Stage,
		Message: r.Message,
	}
}

// EnrollmentVerifyResponse reports mobileVerified as null when the authority
// did not say.
type EnrollmentVerifyResponse struct {
	TxnID          string     `json:"txnId"`
	Stage          abha.Stage `json:"stage"`
	Token          string     `json:"token,omitempty"`
	RefreshToken   string     `json:"refreshToken,omitempty"`
	ExpiresIn      int64      `json:"expiresIn,omitempty"`
	ABHAExists     bool       `json:"abhaExists"`
	ABHANumber     string     `json:"abhaNumber,omitempty"`
	ABHAAddress    string     `json:"abhaAddress,omitempty"`
	Mobile         string     `json:"mobile,omitempty"`
	MobileVerified *bool      `json:"mobileVerified"`
	New            bool       `json:"new"`
	Message        string     `json:"message"`
}

func toEnrollmentVerify(r *abha.EnrollmentVerification) EnrollmentVerifyResponse {
	return EnrollmentVerifyResponse{
		TxnID:          r.Transaction.ID,
		Stage:          r.Transaction.Stage,
		Token:          r.Token,
		RefreshToken:   r.RefreshToken,
		ExpiresIn:      r.ExpiresIn,
		ABHAExists:     r.Existing,
		ABHANumber:     r.ABHANumber,
		ABHAAddress:    r.ABHAAddress,
		Mobile:         r.Mobile,
		MobileVerified: mobileFlag(r.MobileStatus),
		New:            r.New,
		Message:        r.Message,
	}
}

func mobileFlag(status abha.MobileStatus) *bool {
	if status == abha.MobileUnknown || status == "" {
		return nil
	}
	verified := status == abha.MobileVerified
	return &verified
}

type MobileVerifyResponse struct {
	TxnID   string     `json:"txnId"`
	Stage   abha.Stage `json:"stage"`
	Message string     `json:"message"`
}

type SuggestionsResponse struct {
	TxnID       string   `json:"txnId"`
	Suggestions []string `json:"suggestions"`
	Message     string   `json:"message"`
}

type CreateAddressResponse struct {
	TxnID       string        `json:"txnId"`
	ABHAAddress string        `json:"abhaAddress"`
	ABHANumber  string        `json:"abhaNumber,omitempty"`
	Token       string        `json:"token,omitempty"`
	Existing    bool          `json:"existing"`
	Redirect    abha.Redirect `json:"redirect,omitempty"`
	Message     string        `json:"message"`
}

func toCreateAddress(r *abha.AddressCreation) CreateAddressResponse {
	return CreateAddressResponse{
		TxnID:       r.Transaction.ID,
		ABHAAddress: r.ABHAAddress,
		ABHANumber:  r.ABHANumber,
		Token:       r.Token,
		Existing:    r.Existing,
		Redirect:    r.Redirect,
		Message:     r.Message,
	}
}

type AvailabilityResponse struct {
	Address   string `json:"address"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// AddressExistsResponse is the facility-side view of the same check.
type AddressExistsResponse struct {
	Exists  bool   `json:"exists"`
	Message string `json:"message"`
}

type LoginVerifyResponse struct {
	TxnID        string     `json:"txnId"`
	Stage        abha.Stage `json:"stage"`
	Token        string     `json:"token,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ABHAExists   bool       `json:"abhaExists"`
	ABHANumber   string     `json:"abhaNumber,omitempty"`
	ABHAAddress  string     `json:"abhaAddress,omitempty"`
	Message      string     `json:"message"`
}

func toLoginVerify(r *abha.LoginVerification) LoginVerifyResponse {
	return LoginVerifyResponse{
		TxnID:        r.Transaction.ID,
		Stage:        r.Transaction.Stage,
		Token:        r.Token,
		RefreshToken: r.RefreshToken,
		ABHAExists:   r.Existing,
		ABHANumber:   r.ABHANumber,
		ABHAAddress:  r.ABHAAddress,
		Message:      r.Message,
	}
}

// CardResponse carries the card bytes as base64 so JSON clients can render it.
type CardResponse struct {
	Card     string `json:"card"`
	MimeType string `json:"mimeType"`
	Message  string `json:"message"`
}

func toCard(c *abha.Card) CardResponse {
	return CardResponse{
		Card:     base64.StdEncoding.EncodeToString(c.Data),
		MimeType: c.ContentType,
		Message:  msgCardFetched,
	}
}

type SearchResponse struct {
	Found   bool            `json:"found"`
	Record  json.RawMessage `json:"record,omitempty"`
	Message string          `json:"message"`
}

func toSearch(r *abha.SearchResult) SearchResponse {
	resp := SearchResponse{Found: r.Found, Message: r.Message}
	if r.Found {
		resp.Record = r.Record
	}
	return resp
}

type VerifyConfirmResponse struct {
	TxnID    string          `json:"txnId"`
	Verified bool            `json:"verified"`
	Details  json.RawMessage `json:"details,omitempty"`
	Message  string          `json:"message"`
}

type HealthResponse struct {
	Reachable bool   `json:"reachable"`
	Circuit   string `json:"circuit"`
	Message   string `json:"message"`
}
