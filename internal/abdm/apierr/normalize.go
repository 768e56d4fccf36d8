package apierr

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	msgDuplicateIdentity = "ABHA already exists for this Aadhaar number."
	msgNotFound          = "The requested record was not found."
	msgUnavailable       = "The health ID service is temporarily unavailable. Please try again later."
	msgRequestFailed     = "The request to the health ID service failed."
	msgRateLimited       = "Too many requests. Please try again later."
	msgUnauthorized      = "Unauthorized access. Please log in again."

	maxMessageRunes = 200
)

type tableEntry struct {
	kind    Kind
	message string
}

// codeTable maps authority error codes to kinds and user-facing messages.
var codeTable = map[string]tableEntry{
	"ABDM-1017": {KindInvalidTransaction, "Invalid or expired transaction. Please start again."},
	"ABDM-1204": {KindInvalidOTP, "Invalid OTP. Please check and try again."},
	"ABDM-1030": {KindInvalidRequest, "Invalid request. Please try again."},
	"ABDM-1008": {KindDuplicateIdentity, msgDuplicateIdentity},
	"HIS-1000":  {KindDuplicateIdentity, msgDuplicateIdentity},
	"ABDM-1009": {KindDuplicateAddress, "This ABHA address is already taken. Please choose another."},
	"HIS-422":   {KindDuplicateAddress, "This ABHA address is already taken. Please choose another."},
	"ABDM-1401": {KindSessionExpired, "Your session has expired. Please log in again."},
	"ABDM-1005": {KindMaxOTPAttempts, "Maximum OTP attempts exceeded. Please try again later."},
	"900901":    {KindUpstreamAuthFailure, "Authentication with the health ID service failed."},
	"HIS-400":   {KindInvalidInput, "Invalid input. Please check the details and try again."},
	"HIS-401":   {KindUnauthorized, msgUnauthorized},
}

// fieldTable holds user-facing messages for field-level errors the authority
// is known to report.
var fieldTable = map[string]string{
	"loginId":    "Invalid Aadhaar number format.",
	"loginHint":  "Invalid login method.",
	"authMethod": "Invalid authentication method.",
}

// identityFields signal that the authority already holds an account; their
// presence in an error body turns any failure into DuplicateIdentity.
var (
	numberFields  = []string{"ABHANumber", "healthIdNumber"}
	addressFields = []string{"preferredAbhaAddress", "abhaAddress", "healthId"}
)

// envelopeKeys are structural members of an error body that are never field errors.
var envelopeKeys = map[string]bool{
	"timestamp": true,
	"message":   true,
	"error":     true,
	"code":      true,
	"errorCode": true,
	"details":   true,
	"path":      true,
	"status":    true,
}

type errorBody struct {
	Code      json.RawMessage `json:"code"`
	ErrorCode json.RawMessage `json:"errorCode"`
	Message   string          `json:"message"`
	Error     json.RawMessage `json:"error"`
	Details   []struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"details"`
}

type field struct {
	key   string
	value string
}

// Normalize converts an upstream failure response into a normalized error.
// status is the HTTP status received; body may be empty or non-JSON.
func Normalize(status int, body []byte) *Error {
	var parsed errorBody
	isJSON := json.Unmarshal(body, &parsed) == nil
	fields := orderedStringFields(body)
	rawMessage := parsed.rawMessage()

	e := &Error{Status: status}

	code := parsed.code()
	if entry, ok := codeTable[code]; ok {
		e.Kind, e.Message, e.Code = entry.kind, entry.message, code
	} else {
		e.Code = code
		if f, ok := firstFieldError(fields); ok && rawMessage == "" {
			e.Kind, e.Field = Kind(f.key), f.key
			e.Message = safeMessage(fieldMessage(f), msgRequestFailed)
		} else {
			e.Kind = kindForStatus(status)
			e.Message = safeMessage(rawMessage, messageForStatus(status))
		}
	}

	if !isJSON && len(bytes.TrimSpace(body)) > 0 {
		e.Message = messageForStatus(status)
	}

	applyDuplicateOverride(e, fields, rawMessage)
	return e
}

// applyDuplicateOverride forces DuplicateIdentity when the body reveals an
// existing account. An explicit duplicate-address code without identity
// fields keeps its own kind.
func applyDuplicateOverride(e *Error, fields []field, rawMessage string) {
	number := lookup(fields, numberFields)
	address := lookup(fields, addressFields)
	hasIdentity := number != "" || address != ""
	textHit := strings.Contains(strings.ToLower(rawMessage), "already exists")

	if !hasIdentity && !textHit {
		return
	}
	if !hasIdentity && e.Kind == KindDuplicateAddress {
		return
	}

	e.Kind = KindDuplicateIdentity
	e.Message = msgDuplicateIdentity
	e.Field = ""
	details := map[string]string{}
	if number != "" {
		details["abhaNumber"] = number
	}
	if address != "" {
		details["abhaAddress"] = address
	}
	if len(details) > 0 {
		e.Details = details
	}
}

func (b errorBody) code() string {
	for _, raw := range []json.RawMessage{b.Code, b.ErrorCode} {
		if c := scalarString(raw); c != "" {
			return c
		}
	}
	var nested struct {
		Code json.RawMessage `json:"code"`
	}
	if len(b.Error) > 0 && json.Unmarshal(b.Error, &nested) == nil {
		if c := scalarString(nested.Code); c != "" {
			return c
		}
	}
	if len(b.Details) > 0 {
		return scalarString(b.Details[0].Code)
	}
	return ""
}

func (b errorBody) rawMessage() string {
	if b.Message != "" {
		return b.Message
	}
	if len(b.Error) > 0 {
		var s string
		if json.Unmarshal(b.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(b.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if len(b.Details) > 0 {
		return b.Details[0].Message
	}
	return ""
}

// scalarString reads a JSON string or number as text.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// orderedStringFields returns the string-valued top-level members of a JSON
// object in document order.
func orderedStringFields(body []byte) []field {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		key, ok := tok.(string)
		if !ok {
			return out
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return out
		}
		var value string
		if json.Unmarshal(raw, &value) == nil {
			out = append(out, field{key: key, value: value})
		}
	}
	return out
}

func firstFieldError(fields []field) (field, bool) {
	for _, f := range fields {
		if envelopeKeys[f.key] || isIdentityField(f.key) {
			continue
		}
		return f, true
	}
	return field{}, false
}

func isIdentityField(key string) bool {
	for _, k := range numberFields {
		if k == key {
			return true
		}
	}
	for _, k := range addressFields {
		if k == key {
			return true
		}
	}
	return false
}

func fieldMessage(f field) string {
	if msg, ok := fieldTable[f.key]; ok {
		return msg
	}
	return f.value
}

func lookup(fields []field, keys []string) string {
	for _, k := range keys {
		for _, f := range fields {
			if f.key == k && strings.TrimSpace(f.value) != "" {
				return strings.TrimSpace(f.value)
			}
		}
	}
	return ""
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidRequest
	default:
		return KindUpstream
	}
}

func messageForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return msgNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return msgUnauthorized
	case status == http.StatusTooManyRequests:
		return msgRateLimited
	case status >= http.StatusInternalServerError:
		return msgUnavailable
	default:
		return msgRequestFailed
	}
}

// safeMessage keeps short, single-line, human-readable text and falls back
// for anything that looks like a technical payload.
func safeMessage(msg, fallback string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return fallback
	}
	if strings.HasPrefix(msg, "{") || strings.HasPrefix(msg, "[") || strings.HasPrefix(msg, "<") ||
		strings.Contains(msg, "Exception") || strings.Contains(msg, "\tat ") {
		return fallback
	}
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		r := []rune(msg)
		return string(r[:maxMessageRunes])
	}
	return msg
}
