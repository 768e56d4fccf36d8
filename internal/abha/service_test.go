package abha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"healthid/internal/abdm"
	"healthid/internal/abdm/apierr"
	"healthid/internal/abdm/fieldcrypt"
	"healthid/internal/abdm/upstream"
	"healthid/internal/abha/mocks"
	"healthid/internal/audit"
	"healthid/internal/platform/logger"
	"healthid/pkg/platform/circuit"
	"healthid/pkg/requestcontext"
)

// =============================================================================
// Orchestrator Test Suite
// =============================================================================
// The orchestrator is exercised against mocked ports. gomock fails any test
// that reaches the network or the encryptor without an expectation, which is
// how "validation before network" is asserted throughout.

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	upstream  *mocks.MockUpstream
	encryptor *mocks.MockEncryptor
	prober    *mocks.MockCredentialProber
	audit     *mocks.MockAuditPublisher
	events    []audit.Event
	service   *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.upstream = mocks.NewMockUpstream(s.ctrl)
	s.encryptor = mocks.NewMockEncryptor(s.ctrl)
	s.prober = mocks.NewMockCredentialProber(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.events = nil
	s.now = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.events = append(s.events, e)
		return nil
	}).AnyTimes()

	svc, err := New(s.upstream, s.encryptor,
		WithCredentialProber(s.prober),
		WithAuditPublisher(s.audit),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.service = svc
}

// expectInvoke records the request sent upstream and answers with body.
func (s *ServiceSuite) expectInvoke(body string) *upstream.Request {
	captured := &upstream.Request{}
	s.upstream.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req upstream.Request) (*upstream.Response, error) {
			*captured = req
			return &upstream.Response{Status: http.StatusOK, Body: []byte(body)}, nil
		})
	return captured
}

// expectInvokeError records the request sent upstream and fails it.
func (s *ServiceSuite) expectInvokeError(err error) *upstream.Request {
	captured := &upstream.Request{}
	s.upstream.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req upstream.Request) (*upstream.Response, error) {
			*captured = req
			return nil, err
		})
	return captured
}

func (s *ServiceSuite) expectEncrypt(plaintext string, kind fieldcrypt.Kind, ciphertext string) {
	s.encryptor.EXPECT().Encrypt(gomock.Any(), plaintext, kind).Return(ciphertext, nil)
}

func (s *ServiceSuite) assertBody(expected string, req *upstream.Request) {
	s.T().Helper()
	raw, err := json.Marshal(req.Body)
	s.Require().NoError(err)
	s.JSONEq(expected, string(raw))
}

func (s *ServiceSuite) assertKind(err error, kind apierr.Kind) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(kind, apierr.KindOf(err), "unexpected error: %v", err)
}

func (s *ServiceSuite) lastEvent() audit.Event {
	s.T().Helper()
	s.Require().NotEmpty(s.events)
	return s.events[len(s.events)-1]
}

// =============================================================================
// Constructor
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil upstream returns error", func() {
		_, err := New(nil, s.encryptor)
		s.EqualError(err, "upstream client is required")
	})

	s.Run("nil encryptor returns error", func() {
		_, err := New(s.upstream, nil)
		s.EqualError(err, "encryptor is required")
	})
}

// =============================================================================
// Enrollment
// =============================================================================

func (s *ServiceSuite) TestSendPrimaryOTP() {
	s.Run("malformed identity number never reaches encryption or network", func() {
		_, err := s.service.SendPrimaryOTP(context.Background(), "12345")
		s.assertKind(err, apierr.KindValidation)
		s.Equal(audit.OutcomeFailure, s.lastEvent().Outcome)
	})

	s.Run("key failure aborts before the network", func() {
		keyErr := apierr.New(apierr.KindEncryptionKeyUnavailable, "Encryption is temporarily unavailable.")
		s.encryptor.EXPECT().Encrypt(gomock.Any(), "123456789012", fieldcrypt.KindIdentityNumber).Return("", keyErr)

		_, err := s.service.SendPrimaryOTP(context.Background(), "1234 5678 9012")
		s.assertKind(err, apierr.KindEncryptionKeyUnavailable)
	})

	s.Run("sends the enrollment OTP request and returns the minted transaction", func() {
		s.expectEncrypt("123456789012", fieldcrypt.KindIdentityNumber, "enc-id")
		req := s.expectInvoke(`{"txnId":"T1","message":"OTP sent"}`)

		result, err := s.service.SendPrimaryOTP(context.Background(), "1234-5678-9012")
		s.Require().NoError(err)

		s.Equal(http.MethodPost, req.Method)
		s.Equal(abdm.EnrollmentRequestOTPPath, req.Path)
		s.Empty(req.UserToken)
		s.assertBody(`{"txnId":"","scope":["abha-enrol"],"loginHint":"aadhaar","loginId":"enc-id","otpSystem":"aadhaar"}`, req)

		s.Equal("T1", result.Transaction.ID)
		s.Equal(FlowEnrollment, result.Transaction.Flow)
		s.Equal(StageOTPSent, result.Transaction.Stage)
		s.Equal(logger.Fingerprint("123456789012"), result.Transaction.Subject)
		s.Equal(s.now, result.Transaction.CreatedAt)
		s.Equal(msgEnrollmentOTPSent, result.Message)

		event := s.lastEvent()
		s.Equal(audit.ActionEnrollmentOTPSent, event.Action)
		s.Equal("T1", event.TransactionID)
		s.NotContains(event.Subject, "123456789012")
	})

	s.Run("request time stamps the transaction", func() {
		requestTime := s.now.Add(-time.Minute)
		s.expectEncrypt("123456789012", fieldcrypt.KindIdentityNumber, "enc-id")
		s.expectInvoke(`{"txnId":"T2"}`)

		result, err := s.service.SendPrimaryOTP(requestcontext.WithTime(context.Background(), requestTime), "123456789012")
		s.Require().NoError(err)
		s.Equal(requestTime, result.Transaction.CreatedAt)
	})

	s.Run("upstream rejection is returned as normalized", func() {
		s.expectEncrypt("123456789012", fieldcrypt.KindIdentityNumber, "enc-id")
		s.expectInvokeError(apierr.Normalize(http.StatusBadRequest, []byte(`{"loginId":"Invalid LoginId"}`)))

		_, err := s.service.SendPrimaryOTP(context.Background(), "123456789012")
		s.assertKind(err, apierr.Kind("loginId"))
	})
}

func (s *ServiceSuite) TestVerifyPrimaryOTP() {
	s.Run("OTP is validated before encryption", func() {
		_, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "12345", "")
		s.assertKind(err, apierr.KindValidation)
	})

	s.Run("missing transaction id is a validation error", func() {
		_, err := s.service.VerifyPrimaryOTP(context.Background(), "  ", "654321", "")
		s.assertKind(err, apierr.KindValidation)
	})

	s.Run("malformed optional mobile is rejected", func() {
		_, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "12345")
		s.assertKind(err, apierr.KindValidation)
	})

	s.Run("sends otp with consent and the optional mobile", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		req := s.expectInvoke(`{"txnId":"T1","isNew":true,"ABHAProfile":{"mobileVerified":true}}`)

		_, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "98765-43210")
		s.Require().NoError(err)

		s.Equal(abdm.EnrolByAadhaarPath, req.Path)
		s.assertBody(`{
			"authData":{"authMethods":["otp"],"otp":{"txnId":"T1","otpValue":"enc-otp","mobile":"9876543210"}},
			"consent":{"code":"abha-enrollment","version":"1.4"}
		}`, req)
	})

	s.Run("isNew false means the account exists", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{"txnId":"T1","isNew":false}`)

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.True(result.Existing)
		s.Equal(msgEnrollmentExisting, result.Message)
		s.Equal(audit.OutcomeExisting, s.lastEvent().Outcome)
	})

	s.Run("nested token with a number means the account exists", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{
			"txnId":"T1",
			"tokens":{"token":"user-jwt","refreshToken":"refresh","expiresIn":1800},
			"ABHAProfile":{"ABHANumber":"91-1234-5678-9012","phrAddress":["asha.k@sbx"]}
		}`)

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.True(result.Existing)
		s.Equal("user-jwt", result.Token)
		s.Equal("refresh", result.RefreshToken)
		s.Equal(int64(1800), result.ExpiresIn)
		s.Equal("91-1234-5678-9012", result.ABHANumber)
		s.Equal("asha.k@sbx", result.ABHAAddress)
	})

	s.Run("duplicate identity rejection becomes an existing account", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvokeError(apierr.Normalize(http.StatusBadRequest,
			[]byte(`{"code":"ABDM-1008","ABHANumber":"91-1111-2222-3333"}`)))

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.True(result.Existing)
		s.Equal("91-1111-2222-3333", result.ABHANumber)
	})

	s.Run("invalid OTP rejection is surfaced", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvokeError(apierr.Normalize(http.StatusBadRequest, []byte(`{"code":"ABDM-1204","message":"Invalid OTP"}`)))

		_, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.assertKind(err, apierr.KindInvalidOTP)
		s.Equal(audit.OutcomeFailure, s.lastEvent().Outcome)
	})

	s.Run("unknown mobile status goes straight to address selection", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{"txnId":"T1","isNew":true}`)

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.False(result.Existing)
		s.Equal(StageAddressPending, result.Transaction.Stage)
		s.Equal(MobileUnknown, result.Transaction.MobileVerified)
	})

	s.Run("null root fields do not hide the nested account", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{
			"txnId":"T1",
			"ABHANumber":null,
			"token":null,
			"tokens":{"token":"user-jwt"},
			"ABHAProfile":{"ABHANumber":"91-1234-5678-9012"}
		}`)

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.True(result.Existing)
		s.Equal("91-1234-5678-9012", result.ABHANumber)
		s.Equal("user-jwt", result.Token)
	})

	s.Run("profile verified mobile overrides an unverified root flag", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{"txnId":"T1","isNew":true,"mobileVerified":false,"ABHAProfile":{"mobileVerified":true}}`)

		result, err := s.service.VerifyPrimaryOTP(context.Background(), "T1", "654321", "")
		s.Require().NoError(err)
		s.Equal(StageAddressPending, result.Transaction.Stage)
		s.Equal(MobileVerified, result.MobileStatus)
	})
}

// Fresh account with an unverified mobile stops at MobilePending and does not
// ask for address suggestions.
func (s *ServiceSuite) TestEnrollmentReachesMobilePending() {
	ctx := context.Background()

	s.expectEncrypt("123456789012", fieldcrypt.KindIdentityNumber, "enc-id")
	s.expectInvoke(`{"txnId":"T1"}`)
	sent, err := s.service.SendPrimaryOTP(ctx, "123456789012")
	s.Require().NoError(err)
	s.Require().Equal("T1", sent.Transaction.ID)

	s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
	s.expectInvoke(`{
		"txnId":"T1",
		"isNew":true,
		"tokens":{"token":"user-jwt"},
		"ABHAProfile":{"mobile":"9876543210","mobileVerified":false}
	}`)
	verified, err := s.service.VerifyPrimaryOTP(ctx, sent.Transaction.ID, "654321", "")
	s.Require().NoError(err)

	s.False(verified.Existing)
	s.True(verified.New)
	s.Equal(StageMobilePending, verified.Transaction.Stage)
	s.Equal(MobileUnverified, verified.MobileStatus)
	s.Equal("9876543210", verified.Mobile)
	s.Equal(msgEnrollmentCreated, verified.Message)
}

func (s *ServiceSuite) TestMobileVerification() {
	s.Run("send encrypts the mobile under the mobile-verify scope", func() {
		s.expectEncrypt("9876543210", fieldcrypt.KindMobile, "enc-mobile")
		req := s.expectInvoke(`{"txnId":"T2"}`)

		result, err := s.service.SendMobileOTP(context.Background(), "T1", "98765 43210")
		s.Require().NoError(err)

		s.Equal(abdm.EnrollmentRequestOTPPath, req.Path)
		s.assertBody(`{"txnId":"T1","scope":["abha-enrol","mobile-verify"],"loginHint":"mobile","loginId":"enc-mobile","otpSystem":"abdm"}`, req)
		s.Equal("T2", result.Transaction.ID)
		s.Equal(StageMobilePending, result.Transaction.Stage)
		s.Equal(msgMobileOTPSent, result.Message)
	})

	s.Run("send rejects an invalid mobile without a network call", func() {
		_, err := s.service.SendMobileOTP(context.Background(), "T1", "5876543210")
		s.assertKind(err, apierr.KindValidation)
	})

	s.Run("verify moves on to address selection", func() {
		s.expectEncrypt("111222", fieldcrypt.KindOTP, "enc-otp")
		req := s.expectInvoke(`{"txnId":"T2","authResult":"success"}`)

		result, err := s.service.VerifyMobileOTP(context.Background(), "T2", "111222")
		s.Require().NoError(err)

		s.Equal(abdm.AuthByABDMPath, req.Path)
		s.assertBody(`{
			"scope":["abha-enrol","mobile-verify"],
			"authData":{"authMethods":["otp"],"otp":{"timeStamp":"2025-03-04T05:06:07.000Z","txnId":"T2","otpValue":"enc-otp"}}
		}`, req)
		s.Equal(StageAddressPending, result.Transaction.Stage)
		s.Equal(MobileVerified, result.Transaction.MobileVerified)
		s.Equal(msgMobileVerified, result.Message)
	})

	s.Run("failed auth result is an invalid OTP", func() {
		s.expectEncrypt("111222", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{"txnId":"T2","authResult":"failed","message":"OTP mismatch"}`)

		_, err := s.service.VerifyMobileOTP(context.Background(), "T2", "111222")
		s.assertKind(err, apierr.KindInvalidOTP)
		s.Equal(audit.CategorySecurity, audit.ActionMobileOTPVerified.Category(s.lastEvent().Outcome))
	})
}

// =============================================================================
// Address assignment
// =============================================================================

func (s *ServiceSuite) TestListAddressSuggestions() {
	s.Run("keys the request by transaction header and dedupes", func() {
		req := s.expectInvoke(`{"txnId":"T1","abhaAddressList":["asha.k","asha_k1"," asha.k ",""]}`)

		result, err := s.service.ListAddressSuggestions(context.Background(), "T1")
		s.Require().NoError(err)

		s.Equal(http.MethodGet, req.Method)
		s.Equal(abdm.AddressSuggestionPath, req.Path)
		s.Equal("T1", req.Headers[abdm.HeaderTransactionID])
		s.Equal([]string{"asha.k", "asha_k1"}, result.Suggestions)
	})

	s.Run("missing list yields an empty slice", func() {
		s.expectInvoke(`{"txnId":"T1"}`)

		result, err := s.service.ListAddressSuggestions(context.Background(), "T1")
		s.Require().NoError(err)
		s.NotNil(result.Suggestions)
		s.Empty(result.Suggestions)
	})
}

func (s *ServiceSuite) TestCreateAddress() {
	s.Run("short address fails without a network call", func() {
		_, err := s.service.CreateAddress(context.Background(), "T1", "short", true)
		s.assertKind(err, apierr.KindValidation)
	})

	s.Run("duplicate address redirects to profile", func() {
		s.expectInvokeError(apierr.Normalize(http.StatusBadRequest, []byte(`{"code":"ABDM-1009","message":"exists"}`)))

		result, err := s.service.CreateAddress(context.Background(), "T1", "valid.user1", true)
		s.Require().NoError(err)
		s.True(result.Existing)
		s.Equal(RedirectProfile, result.Redirect)
		s.Equal("valid.user1", result.ABHAAddress)
		s.Equal(audit.OutcomeExisting, s.lastEvent().Outcome)
	})

	s.Run("created address reports number and address in their own fields", func() {
		req := s.expectInvoke(`{
			"txnId":"T1",
			"healthIdNumber":"91-1234-5678-9012",
			"preferredAbhaAddress":"valid.user1@sbx",
			"tokens":{"token":"user-jwt"}
		}`)

		result, err := s.service.CreateAddress(context.Background(), "T1", " Valid.User1 ", false)
		s.Require().NoError(err)

		s.assertBody(`{"txnId":"T1","abhaAddress":"valid.user1","preferred":0}`, req)
		s.False(result.Existing)
		s.Equal(RedirectNone, result.Redirect)
		s.Equal("91-1234-5678-9012", result.ABHANumber)
		s.Equal("valid.user1@sbx", result.ABHAAddress)
		s.Equal("user-jwt", result.Token)
		s.Equal(StageAddressAssigned, result.Transaction.Stage)
		s.True(result.Transaction.Stage.Terminal())
	})

	s.Run("preferred flag is sent as 1", func() {
		req := s.expectInvoke(`{"txnId":"T1"}`)

		result, err := s.service.CreateAddress(context.Background(), "T1", "valid.user1", true)
		s.Require().NoError(err)
		s.assertBody(`{"txnId":"T1","abhaAddress":"valid.user1","preferred":1}`, req)
		s.Equal("valid.user1", result.ABHAAddress)
	})
}

func (s *ServiceSuite) TestCheckAddressAvailable() {
	s.Run("404 means available", func() {
		req := s.expectInvokeError(apierr.Normalize(http.StatusNotFound, nil))

		result, err := s.service.CheckAddressAvailable(context.Background(), "asha.kumar")
		s.Require().NoError(err)
		s.True(result.Available)
		s.Equal(msgAddressAvailable, result.Message)
		s.Equal(abdm.ExistsByAddressPath, req.Path)
		s.Equal("asha.kumar", req.Query.Get("healthId"))
	})

	for _, body := range []string{`{"status":true}`, `{"status":"true"}`, `true`} {
		s.Run("exists reply "+body+" means taken", func() {
			s.expectInvoke(body)

			result, err := s.service.CheckAddressAvailable(context.Background(), "asha.kumar")
			s.Require().NoError(err)
			s.False(result.Available)
			s.Equal(msgAddressTaken, result.Message)
		})
	}

	s.Run("status false means available", func() {
		s.expectInvoke(`{"status":false}`)

		result, err := s.service.CheckAddressAvailable(context.Background(), "asha.kumar")
		s.Require().NoError(err)
		s.True(result.Available)
	})

	s.Run("other failures are surfaced", func() {
		s.expectInvokeError(apierr.Network(errors.New("connection refused")))

		_, err := s.service.CheckAddressAvailable(context.Background(), "asha.kumar")
		s.assertKind(err, apierr.KindNetwork)
	})

	s.Run("invalid address is rejected locally", func() {
		_, err := s.service.CheckAddressAvailable(context.Background(), "bad address!")
		s.assertKind(err, apierr.KindValidation)
	})
}

// =============================================================================
// Login
// =============================================================================

func (s *ServiceSuite) TestLogin() {
	s.Run("send uses the login scope and omits the transaction id", func() {
		s.expectEncrypt("123456789012", fieldcrypt.KindIdentityNumber, "enc-id")
		req := s.expectInvoke(`{"txnId":"L1"}`)

		result, err := s.service.SendLoginOTP(context.Background(), "123456789012")
		s.Require().NoError(err)

		s.Equal(abdm.LoginRequestOTPPath, req.Path)
		s.assertBody(`{"scope":["abha-login","aadhaar-verify"],"loginHint":"aadhaar","loginId":"enc-id","otpSystem":"aadhaar"}`, req)
		s.Equal(FlowLogin, result.Transaction.Flow)
		s.Equal("L1", result.Transaction.ID)
	})

	s.Run("verify with nested tokens logs in", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		req := s.expectInvoke(`{"txnId":"L1","tokens":{"token":"user-jwt","refreshToken":"refresh"},"ABHAProfile":{"ABHANumber":"91-1234-5678-9012"}}`)

		result, err := s.service.VerifyLoginOTP(context.Background(), "L1", "654321")
		s.Require().NoError(err)

		s.Equal(abdm.LoginVerifyPath, req.Path)
		s.assertBody(`{"scope":["abha-login","aadhaar-verify"],"authData":{"authMethods":["otp"],"otp":{"txnId":"L1","otpValue":"enc-otp"}}}`, req)
		s.True(result.Existing)
		s.Equal("user-jwt", result.Token)
		s.Equal("refresh", result.RefreshToken)
		s.Equal(StageLoggedIn, result.Transaction.Stage)
		s.Equal(msgLoginSuccess, result.Message)
	})

	s.Run("verify without an account asks to enroll", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvoke(`{"txnId":"L1"}`)

		result, err := s.service.VerifyLoginOTP(context.Background(), "L1", "654321")
		s.Require().NoError(err)
		s.False(result.Existing)
		s.Equal(msgLoginNotFound, result.Message)
	})

	s.Run("expired transaction is surfaced", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		s.expectInvokeError(apierr.Normalize(http.StatusBadRequest, []byte(`{"code":"ABDM-1017"}`)))

		_, err := s.service.VerifyLoginOTP(context.Background(), "L1", "654321")
		s.assertKind(err, apierr.KindInvalidTransaction)
	})
}

// =============================================================================
// Profile
// =============================================================================

func (s *ServiceSuite) TestGetProfile() {
	s.Run("missing token is rejected locally", func() {
		_, err := s.service.GetProfile(context.Background(), " ")
		s.assertKind(err, apierr.KindUnauthorized)
	})

	s.Run("passes the record through and lifts common fields", func() {
		body := `{"ABHANumber":"91-1234-5678-9012","preferredAbhaAddress":"asha.k@sbx","name":"Asha Kumar",` +
			`"dayOfBirth":"1","monthOfBirth":"2","yearOfBirth":"1990","gender":"F","mobile":"9876543210",` +
			`"mobileVerified":"true","kycVerified":true}`
		req := s.expectInvoke(body)

		profile, err := s.service.GetProfile(context.Background(), "user-jwt")
		s.Require().NoError(err)

		s.Equal("user-jwt", req.UserToken)
		s.Equal(abdm.ProfilePath, req.Path)
		s.Equal("91-1234-5678-9012", profile.ABHANumber)
		s.Equal("asha.k@sbx", profile.ABHAAddress)
		s.Equal("Asha Kumar", profile.Name)
		s.Equal("1-2-1990", profile.DateOfBirth)
		s.Equal(MobileVerified, profile.MobileVerified)
		s.True(profile.KYCVerified)
		s.JSONEq(body, string(profile.Raw))
	})

	s.Run("session expiry is surfaced", func() {
		s.expectInvokeError(apierr.Normalize(http.StatusUnauthorized, []byte(`{"code":"ABDM-1401"}`)))

		_, err := s.service.GetProfile(context.Background(), "user-jwt")
		s.assertKind(err, apierr.KindSessionExpired)
	})
}

func (s *ServiceSuite) TestGetCard() {
	s.Run("returns bytes and content type", func() {
		s.upstream.EXPECT().InvokeBinary(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req upstream.Request) (*upstream.Binary, error) {
				s.Equal(abdm.CardPath, req.Path)
				s.Equal("user-jwt", req.UserToken)
				return &upstream.Binary{Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}, nil
			})

		card, err := s.service.GetCard(context.Background(), "user-jwt")
		s.Require().NoError(err)
		s.Equal([]byte{0x89, 'P', 'N', 'G'}, card.Data)
		s.Equal("image/png", card.ContentType)
	})

	s.Run("missing token is rejected locally", func() {
		_, err := s.service.GetCard(context.Background(), "")
		s.assertKind(err, apierr.KindUnauthorized)
	})
}

// =============================================================================
// Search and facility verification
// =============================================================================

func (s *ServiceSuite) TestSearch() {
	s.Run("404 is a negative result", func() {
		req := s.expectInvokeError(apierr.Normalize(http.StatusNotFound, []byte(`{"message":"not found"}`)))

		result, err := s.service.SearchByNumber(context.Background(), "91-1234-5678-9012")
		s.Require().NoError(err)
		s.False(result.Found)
		s.Equal(msgNoAccountForNumber, result.Message)
		s.Equal("91123456789012", req.Query.Get("healthIdNumber"))
	})

	s.Run("found record is passed through", func() {
		req := s.expectInvoke(`{"healthIdNumber":"91-1234-5678-9012","name":"Asha"}`)

		result, err := s.service.SearchByAddress(context.Background(), "asha.kumar")
		s.Require().NoError(err)
		s.True(result.Found)
		s.JSONEq(`{"healthIdNumber":"91-1234-5678-9012","name":"Asha"}`, string(result.Record))
		s.Equal(abdm.SearchByAddressPath, req.Path)
		s.Equal("asha.kumar", req.Query.Get("healthId"))
	})

	s.Run("mobile search normalizes the number", func() {
		req := s.expectInvoke(`[{"ABHANumber":"91-1234-5678-9012"}]`)

		result, err := s.service.SearchByMobile(context.Background(), "98765-43210")
		s.Require().NoError(err)
		s.True(result.Found)
		s.Equal(abdm.SearchByMobilePath, req.Path)
		s.Equal("9876543210", req.Query.Get("mobile"))
	})

	s.Run("invalid inputs never reach the network", func() {
		_, err := s.service.SearchByNumber(context.Background(), "1234")
		s.assertKind(err, apierr.KindValidation)
		_, err = s.service.SearchByMobile(context.Background(), "12")
		s.assertKind(err, apierr.KindValidation)
		_, err = s.service.SearchByAddress(context.Background(), "ab")
		s.assertKind(err, apierr.KindValidation)
	})
}

func (s *ServiceSuite) TestFacilityVerification() {
	s.Run("send encrypts the address under the verify scope", func() {
		s.expectEncrypt("asha.kumar", fieldcrypt.KindAddress, "enc-addr")
		req := s.expectInvoke(`{"txnId":"V1"}`)

		result, err := s.service.SendVerifyOTP(context.Background(), "Asha.Kumar")
		s.Require().NoError(err)

		s.Equal(abdm.VerifyRequestOTPPath, req.Path)
		s.assertBody(`{"scope":["abha-verify"],"loginHint":"abha-address","loginId":"enc-addr","otpSystem":"abdm"}`, req)
		s.Equal(FlowFacilityVerify, result.Transaction.Flow)
		s.Equal(msgVerifyOTPSent, result.Message)
	})

	s.Run("confirm returns the authority reply as details", func() {
		s.expectEncrypt("654321", fieldcrypt.KindOTP, "enc-otp")
		req := s.expectInvoke(`{"txnId":"V1","authResult":"success"}`)

		result, err := s.service.ConfirmVerifyOTP(context.Background(), "V1", "654321")
		s.Require().NoError(err)

		s.Equal(abdm.VerifyOTPPath, req.Path)
		s.assertBody(`{"scope":["abha-verify"],"authData":{"authMethods":["otp"],"otp":{"txnId":"V1","otpValue":"enc-otp"}}}`, req)
		s.True(result.Verified)
		s.Equal(StageVerified, result.Transaction.Stage)
		s.JSONEq(`{"txnId":"V1","authResult":"success"}`, string(result.Details))
	})
}

// =============================================================================
// Health and audit
// =============================================================================

func (s *ServiceSuite) TestHealth() {
	s.Run("reachable when a credential is available", func() {
		s.upstream.EXPECT().CircuitState().Return(circuit.StateClosed)
		s.prober.EXPECT().Token(gomock.Any()).Return("svc-token", nil)

		h, err := s.service.Health(context.Background())
		s.Require().NoError(err)
		s.True(h.Reachable)
		s.Equal("closed", h.Circuit)
	})

	s.Run("credential failure is surfaced with circuit state", func() {
		s.upstream.EXPECT().CircuitState().Return(circuit.StateOpen)
		s.prober.EXPECT().Token(gomock.Any()).Return("", apierr.New(apierr.KindCredentialsMissing, "missing"))

		h, err := s.service.Health(context.Background())
		s.assertKind(err, apierr.KindCredentialsMissing)
		s.False(h.Reachable)
		s.Equal("open", h.Circuit)
	})
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailFlow() {
	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockAuditPublisher(ctrl)
	failing.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	svc, err := New(s.upstream, s.encryptor, WithAuditPublisher(failing))
	s.Require().NoError(err)

	s.expectInvoke(`{"status":false}`)
	result, err := svc.CheckAddressAvailable(context.Background(), "asha.kumar")
	s.Require().NoError(err)
	s.True(result.Available)
}
