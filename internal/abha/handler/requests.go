package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"healthid/internal/validate"
)

// Request DTOs normalize their fields in Validate so that the values handed to
// the orchestrator are already canonical.

type SendOTPRequest struct {
	Aadhaar string `json:"aadhaar"`
}

func (r *SendOTPRequest) Validate() error {
	clean, err := validate.IdentityNumber(r.Aadhaar)
	if err != nil {
		return err
	}
	r.Aadhaar = clean
	return nil
}

type VerifyOTPRequest struct {
	TxnID string `json:"txnId"`
	OTP   string `json:"otp"`
}

func (r *VerifyOTPRequest) Validate() error {
	txnID, err := validate.TransactionID(r.TxnID)
	if err != nil {
		return err
	}
	otp, err := validate.OTP(r.OTP)
	if err != nil {
		return err
	}
	r.TxnID, r.OTP = txnID, otp
	return nil
}

// EnrollmentVerifyRequest carries an optional communication mobile.
type EnrollmentVerifyRequest struct {
	TxnID  string `json:"txnId"`
	OTP    string `json:"otp"`
	Mobile string `json:"mobile,omitempty"`
}

func (r *EnrollmentVerifyRequest) Validate() error {
	base := VerifyOTPRequest{TxnID: r.TxnID, OTP: r.OTP}
	if err := base.Validate(); err != nil {
		return err
	}
	r.TxnID, r.OTP = base.TxnID, base.OTP
	if strings.TrimSpace(r.Mobile) == "" {
		r.Mobile = ""
		return nil
	}
	mobile, err := validate.Mobile(r.Mobile)
	if err != nil {
		return err
	}
	r.Mobile = mobile
	return nil
}

type MobileOTPRequest struct {
	TxnID  string `json:"txnId"`
	Mobile string `json:"mobile"`
}

func (r *MobileOTPRequest) Validate() error {
	txnID, err := validate.TransactionID(r.TxnID)
	if err != nil {
		return err
	}
	mobile, err := validate.Mobile(r.Mobile)
	if err != nil {
		return err
	}
	r.TxnID, r.Mobile = txnID, mobile
	return nil
}

// Flag is an optional JSON boolean that also accepts the authority's 0/1 form.
type Flag struct {
	Set   bool
	Value bool
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = Flag{}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag{Set: true, Value: b}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = Flag{Set: true, Value: n != 0}
		return nil
	}
	return fmt.Errorf("flag must be a boolean or 0/1, got %s", data)
}

// CreateAddressRequest defaults Preferred to true when omitted.
type CreateAddressRequest struct {
	TxnID       string `json:"txnId"`
	ABHAAddress string `json:"abhaAddress"`
	Preferred   Flag   `json:"preferred"`
}

func (r *CreateAddressRequest) Validate() error {
	txnID, err := validate.TransactionID(r.TxnID)
	if err != nil {
		return err
	}
	address, err := validate.ABHAAddress(r.ABHAAddress)
	if err != nil {
		return err
	}
	r.TxnID, r.ABHAAddress = txnID, address
	return nil
}

func (r *CreateAddressRequest) IsPreferred() bool {
	return !r.Preferred.Set || r.Preferred.Value
}

type AddressRequest struct {
	ABHAAddress string `json:"abhaAddress"`
}

func (r *AddressRequest) Validate() error {
	address, err := validate.ABHAAddress(r.ABHAAddress)
	if err != nil {
		return err
	}
	r.ABHAAddress = address
	return nil
}

type NumberRequest struct {
	ABHANumber string `json:"abhaNumber"`
}

func (r *NumberRequest) Validate() error {
	number, err := validate.ABHANumber(r.ABHANumber)
	if err != nil {
		return err
	}
	r.ABHANumber = number
	return nil
}

type MobileRequest struct {
	Mobile string `json:"mobile"`
}

func (r *MobileRequest) Validate() error {
	mobile, err := validate.Mobile(r.Mobile)
	if err != nil {
		return err
	}
	r.Mobile = mobile
	return nil
}
