// Package abdm holds the wire-level constants shared by every client of the
// ABDM identity authority: endpoint paths and the standard request headers.
package abdm

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Endpoint paths. SessionPath is served from the ABDM gateway base URL, all
// others from the ABHA base URL.
const (
	SessionPath = "/api/hiecm/gateway/v3/sessions"

	PublicCertificatePath = "/abha/api/v3/profile/public/certificate"

	EnrollmentRequestOTPPath = "/abha/api/v3/enrollment/request/otp"
	EnrolByAadhaarPath       = "/abha/api/v3/enrollment/enrol/byAadhaar"
	AuthByABDMPath           = "/abha/api/v3/enrollment/auth/byAbdm"
	AddressSuggestionPath    = "/abha/api/v3/enrollment/enrol/suggestion"
	CreateAddressPath        = "/abha/api/v3/enrollment/enrol/abha-address"

	LoginRequestOTPPath = "/abha/api/v3/profile/login/request/otp"
	LoginVerifyPath     = "/abha/api/v3/profile/login/verify"

	ProfilePath = "/abha/api/v3/profile/account"
	CardPath    = "/abha/api/v3/profile/account/abha-card"

	VerifyRequestOTPPath = "/abha/api/v3/profile/verify/request/otp"
	VerifyOTPPath        = "/abha/api/v3/profile/verify/otp"

	ExistsByAddressPath = "/abha/api/v3/search/existsByHealthId"
	SearchByAddressPath = "/abha/api/v3/search/searchByHealthId"
	SearchByNumberPath  = "/abha/api/v3/search/searchByHealthIdNumber"
	SearchByMobilePath  = "/abha/api/v3/search/searchByMobile"
)

// Header names used on every authority call.
const (
	HeaderRequestID     = "REQUEST-ID"
	HeaderTimestamp     = "TIMESTAMP"
	HeaderCMID          = "X-CM-ID"
	HeaderAuthorization = "Authorization"
	HeaderXToken        = "X-Token"
	HeaderTransactionID = "Transaction_Id"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// SetStandardHeaders sets a fresh REQUEST-ID, the TIMESTAMP for now and the
// consent-manager id. It returns the request id for logging.
func SetStandardHeaders(h http.Header, cmID string, now time.Time) string {
	requestID := uuid.NewString()
	h.Set("Content-Type", "application/json")
	h.Set(HeaderRequestID, requestID)
	h.Set(HeaderTimestamp, now.UTC().Format(TimestampLayout))
	if cmID != "" {
		h.Set(HeaderCMID, cmID)
	}
	return requestID
}

// Bearer formats a bearer credential header value.
func Bearer(token string) string {
	return "Bearer " + token
}
