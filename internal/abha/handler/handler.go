// Package handler exposes the identity flows over HTTP using the
// {success, data} / {success, error} envelope.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"healthid/internal/abha"
	"healthid/pkg/platform/httputil"
	authmw "healthid/pkg/platform/middleware/auth"
	"healthid/pkg/requestcontext"
)

// Service is the orchestrator surface the handlers drive.
type Service interface {
	Health(ctx context.Context) (*abha.Health, error)

	SendPrimaryOTP(ctx context.Context, identityNumber string) (*abha.OTPSent, error)
	VerifyPrimaryOTP(ctx context.Context, txnID, otp, mobile string) (*abha.EnrollmentVerification, error)
	SendMobileOTP(ctx context.Context, txnID, mobile string) (*abha.OTPSent, error)
	VerifyMobileOTP(ctx context.Context, txnID, otp string) (*abha.MobileVerification, error)
	ListAddressSuggestions(ctx context.Context, txnID string) (*abha.AddressSuggestions, error)
	CreateAddress(ctx context.Context, txnID, address string, preferred bool) (*abha.AddressCreation, error)
	CheckAddressAvailable(ctx context.Context, address string) (*abha.Availability, error)

	SendLoginOTP(ctx context.Context, identityNumber string) (*abha.OTPSent, error)
	VerifyLoginOTP(ctx context.Context, txnID, otp string) (*abha.LoginVerification, error)

	GetProfile(ctx context.Context, userToken string) (*abha.Profile, error)
	GetCard(ctx context.Context, userToken string) (*abha.Card, error)

	SearchByAddress(ctx context.Context, address string) (*abha.SearchResult, error)
	SearchByNumber(ctx context.Context, number string) (*abha.SearchResult, error)
	SearchByMobile(ctx context.Context, mobile string) (*abha.SearchResult, error)
	SendVerifyOTP(ctx context.Context, address string) (*abha.OTPSent, error)
	ConfirmVerifyOTP(ctx context.Context, txnID, otp string) (*abha.VerifyConfirmation, error)
}

// Handler serves the identity API.
type Handler struct {
	service    Service
	logger     *slog.Logger
	otpLimiter func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithOTPLimiter guards every route that makes the authority send an OTP.
func WithOTPLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.otpLimiter = mw
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	if h.otpLimiter == nil {
		h.otpLimiter = func(next http.Handler) http.Handler { return next }
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/api/session/health", h.handleHealth)

	r.Route("/api/enrollment", func(r chi.Router) {
		r.With(h.otpLimiter).Post("/send-otp", h.handleEnrollmentSendOTP)
		r.Post("/verify-otp", h.handleEnrollmentVerifyOTP)
		r.With(h.otpLimiter).Post("/mobile/send-otp", h.handleMobileSendOTP)
		r.Post("/mobile/verify-otp", h.handleMobileVerifyOTP)
		r.Get("/address-suggestions", h.handleAddressSuggestions)
		r.Post("/create-address", h.handleCreateAddress)
		r.Get("/check-address-availability", h.handleCheckAvailability)
	})

	r.Route("/api/login", func(r chi.Router) {
		r.With(h.otpLimiter).Post("/send-otp", h.handleLoginSendOTP)
		r.Post("/verify-otp", h.handleLoginVerifyOTP)
	})

	r.Route("/api/profile", func(r chi.Router) {
		r.Use(authmw.RequireUserToken(h.logger))
		r.Get("/", h.handleProfile)
		r.Get("/card", h.handleCard)
	})

	r.Route("/api/search", func(r chi.Router) {
		r.Post("/by-address", h.handleSearchByAddress)
		r.Post("/by-number", h.handleSearchByNumber)
		r.Post("/by-mobile", h.handleSearchByMobile)
		r.Post("/verify-address", h.handleVerifyAddress)
		r.With(h.otpLimiter).Post("/verify/send-otp", h.handleVerifySendOTP)
		r.Post("/verify/confirm", h.handleVerifyConfirm)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, HealthResponse{
		Reachable: health.Reachable,
		Circuit:   health.Circuit,
		Message:   health.Message,
	})
}

// Enrollment

func (h *Handler) handleEnrollmentSendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SendOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.SendPrimaryOTP(ctx, req.Aadhaar)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toOTPSent(res))
}

func (h *Handler) handleEnrollmentVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[EnrollmentVerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.VerifyPrimaryOTP(ctx, req.TxnID, req.OTP, req.Mobile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toEnrollmentVerify(res))
}

func (h *Handler) handleMobileSendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[MobileOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.SendMobileOTP(ctx, req.TxnID, req.Mobile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toOTPSent(res))
}

func (h *Handler) handleMobileVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.VerifyMobileOTP(ctx, req.TxnID, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, MobileVerifyResponse{
		TxnID:   res.Transaction.ID,
		Stage:   res.Transaction.Stage,
		Message: res.Message,
	})
}

func (h *Handler) handleAddressSuggestions(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ListAddressSuggestions(r.Context(), r.URL.Query().Get("txnId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, SuggestionsResponse{
		TxnID:       res.TransactionID,
		Suggestions: res.Suggestions,
		Message:     res.Message,
	})
}

func (h *Handler) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateAddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.CreateAddress(ctx, req.TxnID, req.ABHAAddress, req.IsPreferred())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toCreateAddress(res))
}

func (h *Handler) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CheckAddressAvailable(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, AvailabilityResponse{
		Address:   res.Address,
		Available: res.Available,
		Message:   res.Message,
	})
}

// Login

func (h *Handler) handleLoginSendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SendOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.SendLoginOTP(ctx, req.Aadhaar)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toOTPSent(res))
}

func (h *Handler) handleLoginVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.VerifyLoginOTP(ctx, req.TxnID, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toLoginVerify(res))
}

// Profile

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.service.GetProfile(ctx, requestcontext.UserToken(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, json.RawMessage(profile.Raw))
}

func (h *Handler) handleCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	card, err := h.service.GetCard(ctx, requestcontext.UserToken(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toCard(card))
}

// Search and facility verification

func (h *Handler) handleSearchByAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writeSearch(w, r)(h.service.SearchByAddress(ctx, req.ABHAAddress))
}

func (h *Handler) handleSearchByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[NumberRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writeSearch(w, r)(h.service.SearchByNumber(ctx, req.ABHANumber))
}

func (h *Handler) handleSearchByMobile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[MobileRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writeSearch(w, r)(h.service.SearchByMobile(ctx, req.Mobile))
}

func (h *Handler) writeSearch(w http.ResponseWriter, r *http.Request) func(*abha.SearchResult, error) {
	return func(res *abha.SearchResult, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httputil.WriteData(w, http.StatusOK, toSearch(res))
	}
}

func (h *Handler) handleVerifyAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.CheckAddressAvailable(ctx, req.ABHAAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	message := "ABHA Address is available"
	if !res.Available {
		message = "ABHA Address exists"
	}
	httputil.WriteData(w, http.StatusOK, AddressExistsResponse{Exists: !res.Available, Message: message})
}

func (h *Handler) handleVerifySendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.SendVerifyOTP(ctx, req.ABHAAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, toOTPSent(res))
}

func (h *Handler) handleVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.ConfirmVerifyOTP(ctx, req.TxnID, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, VerifyConfirmResponse{
		TxnID:    res.Transaction.ID,
		Verified: res.Verified,
		Details:  res.Details,
		Message:  res.Message,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.DebugContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err,
	)
	httputil.WriteError(w, err)
}
