package abha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"healthid/internal/abdm"
	"healthid/internal/abdm/fieldcrypt"
	"healthid/internal/abdm/upstream"
	"healthid/internal/audit"
	"healthid/internal/validate"
)

const (
	msgSearchFound         = "ABHA account found"
	msgNoAccountForAddress = "No ABHA account found with this address"
	msgNoAccountForNumber  = "No ABHA account found with this number"
	msgNoAccountForMobile  = "No ABHA accounts found for this mobile number"
	msgVerifyOTPSent       = "Verification OTP sent"
	msgVerifyConfirmed     = "ABHA verified successfully"
)

// SearchByAddress looks an account up by its address.
func (s *Service) SearchByAddress(ctx context.Context, address string) (*SearchResult, error) {
	op := s.begin("search.by_address", audit.ActionSearched, FlowFacilityVerify)
	address, err := validate.ABHAAddress(address)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(address)
	return s.search(ctx, op, abdm.SearchByAddressPath, url.Values{"healthId": {address}}, msgNoAccountForAddress)
}

// SearchByNumber looks an account up by its 14-digit number.
func (s *Service) SearchByNumber(ctx context.Context, number string) (*SearchResult, error) {
	op := s.begin("search.by_number", audit.ActionSearched, FlowFacilityVerify)
	number, err := validate.ABHANumber(number)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(number)
	return s.search(ctx, op, abdm.SearchByNumberPath, url.Values{"healthIdNumber": {number}}, msgNoAccountForNumber)
}

// SearchByMobile lists the accounts linked to a mobile number.
func (s *Service) SearchByMobile(ctx context.Context, mobile string) (*SearchResult, error) {
	op := s.begin("search.by_mobile", audit.ActionSearched, FlowFacilityVerify)
	mobile, err := validate.Mobile(mobile)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(mobile)
	return s.search(ctx, op, abdm.SearchByMobilePath, url.Values{"mobile": {mobile}}, msgNoAccountForMobile)
}

// search treats an upstream 404 as a negative result.
func (s *Service) search(ctx context.Context, op *operation, path string, query url.Values, notFound string) (*SearchResult, error) {
	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			s.succeed(ctx, op)
			return &SearchResult{Found: false, Message: notFound}, nil
		}
		return nil, s.fail(ctx, op, err)
	}

	s.succeed(ctx, op)
	return &SearchResult{Found: true, Record: rawRecord(resp.Body), Message: msgSearchFound}, nil
}

// SendVerifyOTP starts facility-side verification of an address holder.
func (s *Service) SendVerifyOTP(ctx context.Context, address string) (*OTPSent, error) {
	op := s.begin("verify.send_otp", audit.ActionVerifyOTPSent, FlowFacilityVerify)

	address, err := validate.ABHAAddress(address)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(address)

	encrypted, err := s.encryptor.Encrypt(ctx, address, fieldcrypt.KindAddress)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	var reply txnReply
	if err := s.post(ctx, abdm.VerifyRequestOTPPath, otpRequest{
		Scope:     FlowFacilityVerify.Scope(),
		LoginHint: loginHintAddress,
		LoginID:   encrypted,
		OTPSystem: otpSystemABDM,
	}, &reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = reply.TxnID

	s.succeed(ctx, op)
	return &OTPSent{
		Transaction: s.newTransaction(ctx, reply.TxnID, FlowFacilityVerify, StageOTPSent, op.subject),
		Message:     msgVerifyOTPSent,
	}, nil
}

// ConfirmVerifyOTP completes facility-side verification. Details carries the
// authority's reply unchanged.
func (s *Service) ConfirmVerifyOTP(ctx context.Context, txnID, otp string) (*VerifyConfirmation, error) {
	op := s.begin("verify.confirm_otp", audit.ActionVerifyOTPConfirmed, FlowFacilityVerify)

	txnID, err := validate.TransactionID(txnID)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = txnID
	otp, err = validate.OTP(otp)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	encrypted, err := s.encryptor.Encrypt(ctx, otp, fieldcrypt.KindOTP)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   abdm.VerifyOTPPath,
		Body: scopedAuthRequest{
			Scope:    FlowFacilityVerify.Scope(),
			AuthData: otpAuthData(otpAuth{TxnID: txnID, OTPValue: encrypted}),
		},
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	s.succeed(ctx, op)
	return &VerifyConfirmation{
		Transaction: s.newTransaction(ctx, txnID, FlowFacilityVerify, StageVerified, ""),
		Verified:    true,
		Details:     rawRecord(resp.Body),
		Message:     msgVerifyConfirmed,
	}, nil
}

// rawRecord keeps a reply as-is, or null when it is empty or not JSON.
func rawRecord(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("null")
	}
	return json.RawMessage(body)
}
