package abha

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// nestedObjects are merged into the flat view. The authority moves account
// fields between the root, ABHAProfile and tokens depending on endpoint.
var nestedObjects = []string{"ABHAProfile", "tokens"}

// Field aliases in lookup order.
var (
	numberKeys  = []string{"ABHANumber", "healthIdNumber"}
	addressKeys = []string{"preferredAbhaAddress", "healthId", "preferredAddress"}
	tokenKeys   = []string{"token"}
)

// flatView is one lookup table over a response. Each key holds its values
// from every location, root first, so that an empty root entry never hides a
// populated nested one.
type flatView map[string][]any

func flatten(body []byte) flatView {
	view := flatView{}
	if len(bytes.TrimSpace(body)) == 0 {
		return view
	}
	var root map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return view
	}
	view.merge(root)
	for _, name := range nestedObjects {
		if nested, ok := root[name].(map[string]any); ok {
			view.merge(nested)
		}
	}
	return view
}

func (v flatView) merge(obj map[string]any) {
	for k, val := range obj {
		if val != nil {
			v[k] = append(v[k], val)
		}
	}
}

// str returns the first non-empty string-like value among keys.
func (v flatView) str(keys ...string) string {
	for _, k := range keys {
		for _, candidate := range v[k] {
			switch val := candidate.(type) {
			case string:
				if s := strings.TrimSpace(val); s != "" {
					return s
				}
			case json.Number:
				return val.String()
			}
		}
	}
	return ""
}

func parseBool(candidate any) (value, ok bool) {
	switch val := candidate.(type) {
	case bool:
		return val, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		return parsed, err == nil
	}
	return false, false
}

// boolean returns the first readable flag for key and whether one was found.
// String forms are accepted.
func (v flatView) boolean(key string) (value, present bool) {
	for _, candidate := range v[key] {
		if b, ok := parseBool(candidate); ok {
			return b, true
		}
	}
	return false, false
}

// flag reports whether any location sets key to want.
func (v flatView) flag(key string, want bool) bool {
	for _, candidate := range v[key] {
		if b, ok := parseBool(candidate); ok && b == want {
			return true
		}
	}
	return false
}

func (v flatView) integer(key string) int64 {
	for _, candidate := range v[key] {
		switch val := candidate.(type) {
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return n
			}
			if f, err := val.Float64(); err == nil {
				return int64(f)
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func (v flatView) abhaNumber() string {
	return v.str(numberKeys...)
}

// abhaAddress falls back to the first PHR address when no preferred one is set.
func (v flatView) abhaAddress() string {
	if s := v.str(addressKeys...); s != "" {
		return s
	}
	for _, candidate := range v["phrAddress"] {
		list, _ := candidate.([]any)
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (v flatView) token() string {
	return v.str(tokenKeys...)
}

func (v flatView) refreshToken() string {
	return v.str("refreshToken")
}

// mobileStatus trusts a verified flag from any location over an unverified one.
func (v flatView) mobileStatus() MobileStatus {
	switch {
	case v.flag("mobileVerified", true):
		return MobileVerified
	case v.flag("mobileVerified", false):
		return MobileUnverified
	default:
		return MobileUnknown
	}
}

// enrollmentAccountExists decides whether a verify-OTP reply describes an
// account that already existed. Checked in order:
//  1. an explicit isNew=false;
//  2. an issued token together with an ABHA number or address.
func enrollmentAccountExists(v flatView) bool {
	if v.flag("isNew", false) {
		return true
	}
	return v.token() != "" && (v.abhaNumber() != "" || v.abhaAddress() != "")
}

// loginAccountExists treats any account identifier or an issued token as
// proof the account exists.
func loginAccountExists(v flatView) bool {
	return v.abhaNumber() != "" || v.abhaAddress() != "" || v.token() != ""
}

// isNewAccount reports the authority's own "new" flag under either spelling.
func isNewAccount(v flatView) bool {
	return v.flag("new", true) || v.flag("isNew", true)
}
