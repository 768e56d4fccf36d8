package abha

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"healthid/internal/abdm"
	"healthid/internal/abdm/apierr"
	"healthid/internal/abdm/upstream"
	"healthid/internal/audit"
)

var errUserTokenRequired = apierr.New(apierr.KindUnauthorized, "Authentication token required. Please login first.")

// GetProfile reads the account record for the holder of userToken. The
// record is passed through unchanged; only common field names are lifted.
func (s *Service) GetProfile(ctx context.Context, userToken string) (*Profile, error) {
	op := s.begin("profile.get", audit.ActionProfileFetched, FlowLogin)

	userToken = strings.TrimSpace(userToken)
	if userToken == "" {
		return nil, s.fail(ctx, op, errUserTokenRequired)
	}

	resp, err := s.upstream.Invoke(ctx, upstream.Request{
		Method:    http.MethodGet,
		Path:      abdm.ProfilePath,
		UserToken: userToken,
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	profile := profileFrom(resp.Body)
	op.subject = fingerprint(profile.ABHANumber)
	s.succeed(ctx, op)
	return profile, nil
}

func profileFrom(body []byte) *Profile {
	view := flatten(body)
	kyc, _ := view.boolean("kycVerified")
	raw := json.RawMessage(body)
	if !json.Valid(raw) {
		raw = json.RawMessage("{}")
	}
	return &Profile{
		ABHANumber:     view.abhaNumber(),
		ABHAAddress:    view.abhaAddress(),
		Name:           view.str("name", "fullName"),
		DateOfBirth:    dateOfBirth(view),
		Gender:         view.str("gender"),
		Mobile:         view.str("mobile"),
		Email:          view.str("email"),
		MobileVerified: view.mobileStatus(),
		KYCVerified:    kyc,
		Raw:            raw,
	}
}

// dateOfBirth prefers a full date and assembles one from parts otherwise.
func dateOfBirth(view flatView) string {
	if dob := view.str("dob", "dateOfBirth"); dob != "" {
		return dob
	}
	day, month, year := view.str("dayOfBirth"), view.str("monthOfBirth"), view.str("yearOfBirth")
	if year == "" {
		return ""
	}
	parts := []string{}
	for _, p := range []string{day, month} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(append(parts, year), "-")
}

// GetCard downloads the account card as raw bytes with its content type.
func (s *Service) GetCard(ctx context.Context, userToken string) (*Card, error) {
	op := s.begin("profile.card", audit.ActionCardFetched, FlowLogin)

	userToken = strings.TrimSpace(userToken)
	if userToken == "" {
		return nil, s.fail(ctx, op, errUserTokenRequired)
	}

	bin, err := s.upstream.InvokeBinary(ctx, upstream.Request{
		Method:    http.MethodGet,
		Path:      abdm.CardPath,
		UserToken: userToken,
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	s.succeed(ctx, op)
	return &Card{Data: bin.Data, ContentType: bin.ContentType}, nil
}
