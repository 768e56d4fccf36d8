package abha

import (
	"context"
	"net/http"

	"healthid/internal/abdm"
	"healthid/internal/abdm/fieldcrypt"
	"healthid/internal/abdm/upstream"
	"healthid/internal/audit"
	"healthid/internal/validate"
)

const (
	msgLoginOTPSent  = "OTP sent to your Aadhaar-linked mobile"
	msgLoginSuccess  = "Login successful!"
	msgLoginNotFound = "ABHA not found. Please enroll first."
)

// SendLoginOTP starts a login for an existing account holder.
func (s *Service) SendLoginOTP(ctx context.Context, identityNumber string) (*OTPSent, error) {
	op := s.begin("login.send_otp", audit.ActionLoginOTPSent, FlowLogin)

	number, err := validate.IdentityNumber(identityNumber)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.subject = fingerprint(number)

	encrypted, err := s.encryptor.Encrypt(ctx, number, fieldcrypt.KindIdentityNumber)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	var reply txnReply
	if err := s.post(ctx, abdm.LoginRequestOTPPath, otpRequest{
		Scope:     FlowLogin.Scope(),
		LoginHint: loginHintAadhaar,
		LoginID:   encrypted,
		OTPSystem: otpSystemAadhaar,
	}, &reply); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	op.txnID = reply.TxnID

	s.succeed(ctx, op)
	return &OTPSent{
		Transaction: s.newTransaction(ctx, reply.TxnID, FlowLogin, StageOTPSent, op.subject),
		Message:     msgLoginOTPSent,
	}, nil
}

// VerifyLoginOTP completes a login. An OTP accepted for an identity with no
// account is not an error: Existing is false and no token is issued.
func (s *Service) VerifyLoginOTP(ctx context.Context, txnID, otp string) (*LoginVerification, error) {
	op := s.begin("login.verify_otp", audit.ActionLoginOTPVerified, FlowLogin)

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
		Path:   abdm.LoginVerifyPath,
		Body: scopedAuthRequest{
			Scope:    FlowLogin.Scope(),
			AuthData: otpAuthData(otpAuth{TxnID: txnID, OTPValue: encrypted}),
		},
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	view := flatten(resp.Body)
	if id := view.str("txnId"); id != "" {
		txnID = id
		op.txnID = id
	}

	result := &LoginVerification{
		Token:        view.token(),
		RefreshToken: view.refreshToken(),
		ABHANumber:   view.abhaNumber(),
		ABHAAddress:  view.abhaAddress(),
		Existing:     loginAccountExists(view),
		Message:      msgLoginNotFound,
	}
	stage := StageOTPVerified
	if result.Existing {
		stage = StageLoggedIn
		result.Message = msgLoginSuccess
	}
	result.Transaction = s.newTransaction(ctx, txnID, FlowLogin, stage, "")
	result.Transaction.MobileVerified = view.mobileStatus()

	s.succeed(ctx, op)
	return result, nil
}
