package abha

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"healthid/internal/abdm"
	"healthid/internal/abdm/apierr"
	"healthid/internal/abdm/fieldcrypt"
	"healthid/internal/abdm/upstream"
	"healthid/internal/audit"
	"healthid/internal/validate"
	platformstrings "healthid/pkg/platform/strings"
)

const (
	msgEnrollmentOTPSent   = "OTP sent to your Aadhaar-linked mobile number"
	msgEnrollmentExisting  = "ABHA already exists for this Aadhaar. Showing your existing profile."
	msgEnrollmentCreated   = "OTP verified successfully. ABHA account created."
	msgMobileOTPSent       = "Mobile OTP sent successfully"
	msgMobileVerified      = "Mobile verified successfully"
	msgSuggestionsFetched  = "Address suggestions fetched successfully"
	msgAddressCreated      = "ABHA address created successfully"
	msgAddressExisting     = "ABHA already exists. Redirecting to your profile."
	msgAddressAvailable    = "ABHA Address is available!"
	msgAddressTaken        = "This ABHA Address is already taken."
	msgMobileVerifyFailure = "Mobile OTP verification failed. Please check the OTP and try again."
)

// SendPrimaryOTP starts enrollment for an identity number and returns the
// transaction minted by the authority.
func (s *Service) SendPrimaryOTP(ctx context.Context, identityNumber string) (*OTPSent, error) {
	op := s.begin("enrollment.send_otp", audit.ActionEnrollmentOTPSent, FlowEnrollment)

	number, err := validate.IdentityNumber(identityNumber)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(number)

	encrypted, err := s.encryptor.Encrypt(ctx, number, fieldcrypt.KindIdentityNumber)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	empty := ""
	var reply txnReply
	if err := s.post(ctx, abdm.EnrollmentRequestOTPPath, otpRequest{
		TxnID:     &empty,
		Scope:     FlowEnrollment.Scope(),
		LoginHint: loginHintAadhaar,
		LoginID:   encrypted,
		OTPSystem: otpSystemAadhaar,
	}, &reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = reply.TxnID

	s.succeed(ctx, op)
	return &OTPSent{
		Transaction: s.newTransaction(ctx, reply.TxnID, FlowEnrollment, StageOTPSent, op.subject),
		Message:     msgEnrollmentOTPSent,
	}, nil
}

// VerifyPrimaryOTP verifies the enrollment OTP. mobile is optional and, when
// given, becomes the account's communication number. The result reports an
// existing account instead of an error when the identity is already enrolled.
func (s *Service) VerifyPrimaryOTP(ctx context.Context, txnID, otp, mobile string) (*EnrollmentVerification, error) {
	op := s.begin("enrollment.verify_otp", audit.ActionEnrollmentOTPVerified, FlowEnrollment)

	txnID, err := validate.TransactionID(txnID)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = txnID
	otp, err = validate.OTP(otp)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if strings.TrimSpace(mobile) != "" {
		if mobile, err = validate.Mobile(mobile); err != nil {
			return nil, s.fail(ctx, op, err)
		}
	}

	encrypted, err := s.encryptor.Encrypt(ctx, otp, fieldcrypt.KindOTP)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   abdm.EnrolByAadhaarPath,
		Body: enrolByAadhaarRequest{
			AuthData: otpAuthData(otpAuth{TxnID: txnID, OTPValue: encrypted, Mobile: mobile}),
			Consent:  consent{Code: consentCode, Version: consentVersion},
		},
	})
	if err != nil {
		if apierr.IsDuplicate(err) {
			s.finish(ctx, op, audit.OutcomeExisting, nil)
			return existingEnrollment(s.newTransaction(ctx, txnID, FlowEnrollment, StageOTPVerified, ""), err), nil
		}
		return nil, s.fail(ctx, op, err)
	}

	view := flatten(resp.Body)
	if id := view.str("txnId"); id != "" {
		txnID = id
		op.txnID = id
	}

	result := &EnrollmentVerification{
		Token:        view.token(),
		RefreshToken: view.refreshToken(),
		ExpiresIn:    view.integer("expiresIn"),
		ABHANumber:   view.abhaNumber(),
		ABHAAddress:  view.abhaAddress(),
		Mobile:       view.str("mobile"),
		MobileStatus: view.mobileStatus(),
		New:          isNewAccount(view),
	}

	stage := StageAddressPending
	switch {
	case enrollmentAccountExists(view):
		result.Existing = true
		result.Message = msgEnrollmentExisting
		stage = StageOTPVerified
	case result.MobileStatus == MobileUnverified:
		result.Message = msgEnrollmentCreated
		stage = StageMobilePending
	default:
		result.Message = msgEnrollmentCreated
	}
	result.Transaction = s.newTransaction(ctx, txnID, FlowEnrollment, stage, "")
	result.Transaction.MobileVerified = result.MobileStatus

	if result.Existing {
		s.finish(ctx, op, audit.OutcomeExisting, nil)
	} else {
		s.succeed(ctx, op)
	}
	return result, nil
}

// existingEnrollment turns a duplicate-identity rejection into the
// existing-account result, keeping whatever identifiers the authority revealed.
func existingEnrollment(txn Transaction, err error) *EnrollmentVerification {
	result := &EnrollmentVerification{
		Transaction: txn,
		Existing:    true,
		Message:     msgEnrollmentExisting,
	}
	if e, ok := apierr.As(err); ok {
		result.ABHANumber = e.Details["abhaNumber"]
		result.ABHAAddress = e.Details["abhaAddress"]
	}
	return result
}

// SendMobileOTP starts the secondary mobile verification inside an
// enrollment transaction.
func (s *Service) SendMobileOTP(ctx context.Context, txnID, mobile string) (*OTPSent, error) {
	op := s.begin("enrollment.send_mobile_otp", audit.ActionMobileOTPSent, FlowMobileVerify)

	txnID, err := validate.TransactionID(txnID)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = txnID
	mobile, err = validate.Mobile(mobile)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(mobile)

	encrypted, err := s.encryptor.Encrypt(ctx, mobile, fieldcrypt.KindMobile)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	var reply txnReply
	if err := s.post(ctx, abdm.EnrollmentRequestOTPPath, otpRequest{
		TxnID:     &txnID,
		Scope:     FlowMobileVerify.Scope(),
		LoginHint: loginHintMobile,
		LoginID:   encrypted,
		OTPSystem: otpSystemABDM,
	}, &reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if reply.TxnID != "" {
		txnID = reply.TxnID
		op.txnID = txnID
	}

	s.succeed(ctx, op)
	txn := s.newTransaction(ctx, txnID, FlowMobileVerify, StageMobilePending, op.subject)
	txn.MobileVerified = MobileUnverified
	return &OTPSent{Transaction: txn, Message: msgMobileOTPSent}, nil
}

// VerifyMobileOTP completes the mobile round-trip and moves the enrollment
// on to address assignment.
func (s *Service) VerifyMobileOTP(ctx context.Context, txnID, otp string) (*MobileVerification, error) {
	op := s.begin("enrollment.verify_mobile_otp", audit.ActionMobileOTPVerified, FlowMobileVerify)

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

	var reply mobileAuthReply
	if err := s.post(ctx, abdm.AuthByABDMPath, scopedAuthRequest{
		Scope: FlowMobileVerify.Scope(),
		AuthData: otpAuthData(otpAuth{
			TimeStamp: s.now().UTC().Format(abdm.TimestampLayout),
			TxnID:     txnID,
			OTPValue:  encrypted,
		}),
	}, &reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if strings.EqualFold(reply.AuthResult, "failed") {
		return nil, s.fail(ctx, op, apierr.New(apierr.KindInvalidOTP, msgMobileVerifyFailure))
	}
	if reply.TxnID != "" {
		txnID = reply.TxnID
		op.txnID = txnID
	}

	s.succeed(ctx, op)
	txn := s.newTransaction(ctx, txnID, FlowEnrollment, StageAddressPending, "")
	txn.MobileVerified = MobileVerified
	return &MobileVerification{Transaction: txn, Message: msgMobileVerified}, nil
}

// ListAddressSuggestions returns candidate addresses for the transaction,
// deduplicated with the authority's order preserved.
func (s *Service) ListAddressSuggestions(ctx context.Context, txnID string) (*AddressSuggestions, error) {
	op := s.begin("enrollment.address_suggestions", audit.ActionSuggestionsListed, FlowEnrollment)

	txnID, err := validate.TransactionID(txnID)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = txnID

	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method:  http.MethodGet,
		Path:    abdm.AddressSuggestionPath,
		Headers: map[string]string{abdm.HeaderTransactionID: txnID},
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	var reply suggestionReply
	if err := resp.Decode(&reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	suggestions := platformstrings.Dedupe(reply.ABHAAddressList, platformstrings.TrimLower)

	s.succeed(ctx, op)
	return &AddressSuggestions{
		TransactionID: txnID,
		Suggestions:   suggestions,
		Message:       msgSuggestionsFetched,
	}, nil
}

// CreateAddress assigns address to the enrolled account. An address the
// authority already holds is reported as an existing account with a redirect
// to profile retrieval.
func (s *Service) CreateAddress(ctx context.Context, txnID, address string, preferred bool) (*AddressCreation, error) {
	op := s.begin("enrollment.create_address", audit.ActionAddressCreated, FlowEnrollment)

	txnID, err := validate.TransactionID(txnID)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = txnID
	address, err = validate.ABHAAddress(address)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(address)

	flag := 0
	if preferred {
		flag = 1
	}
	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   abdm.CreateAddressPath,
		Body:   createAddressRequest{TxnID: txnID, ABHAAddress: address, Preferred: flag},
	})
	if err != nil {
		if apierr.IsDuplicate(err) {
			s.finish(ctx, op, audit.OutcomeExisting, nil)
			result := &AddressCreation{
				Transaction: s.newTransaction(ctx, txnID, FlowEnrollment, StageAddressAssigned, op.subject),
				ABHAAddress: address,
				Existing:    true,
				Redirect:    RedirectProfile,
				Message:     msgAddressExisting,
			}
			if e, ok := apierr.As(err); ok {
				if n := e.Details["abhaNumber"]; n != "" {
					result.ABHANumber = n
				}
				if a := e.Details["abhaAddress"]; a != "" {
					result.ABHAAddress = a
				}
			}
			return result, nil
		}
		return nil, s.fail(ctx, op, err)
	}

	view := flatten(resp.Body)
	if id := view.str("txnId"); id != "" {
		txnID = id
		op.txnID = id
	}
	assigned := view.abhaAddress()
	if assigned == "" {
		assigned = address
	}

	s.succeed(ctx, op)
	return &AddressCreation{
		Transaction: s.newTransaction(ctx, txnID, FlowEnrollment, StageAddressAssigned, op.subject),
		ABHAAddress: assigned,
		ABHANumber:  view.abhaNumber(),
		Token:       view.token(),
		Message:     msgAddressCreated,
	}, nil
}

// CheckAddressAvailable reports whether an address is still unclaimed. The
// authority answers 404 for unknown addresses, which means available.
func (s *Service) CheckAddressAvailable(ctx context.Context, address string) (*Availability, error) {
	op := s.begin("enrollment.check_address", audit.ActionAddressChecked, FlowEnrollment)

	address, err := validate.ABHAAddress(address)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(address)

	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   abdm.ExistsByAddressPath,
		Query:  url.Values{"healthId": {address}},
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			s.succeed(ctx, op)
			return &Availability{Address: address, Available: true, Message: msgAddressAvailable}, nil
		}
		return nil, s.fail(ctx, op, err)
	}

	if addressExists(resp.Body) {
		s.succeed(ctx, op)
		return &Availability{Address: address, Available: false, Message: msgAddressTaken}, nil
	}
	s.succeed(ctx, op)
	return &Availability{Address: address, Available: true, Message: msgAddressAvailable}, nil
}

// addressExists reads an existence reply: {"status": true}, {"status": "true"}
// or a bare true.
func addressExists(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	var bare bool
	if json.Unmarshal(trimmed, &bare) == nil {
		return bare
	}
	exists, _ := flatten(trimmed).boolean("status")
	return exists
}

// post sends a JSON body and decodes the reply into out.
func (s *Service) post(ctx context.Context, path string, body, out any) error {
	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
