// Package msisdn turns operator-entered phone numbers into E.164 for one
// target country.
package msisdn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// minSubscriberDigits is the shortest subscriber part we attempt to validate.
const minSubscriberDigits = 6

var (
	ErrEmpty        = errors.New("no digits in phone number")
	ErrTooShort     = errors.New("phone number too short")
	ErrInvalid      = errors.New("phone number is not valid")
	ErrWrongCountry = errors.New("phone number belongs to another country")
)

// RejectError records why a raw value was not accepted.
type RejectError struct {
	Raw    string
	Reason error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected %q: %v", e.Raw, e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Rejection pairs a raw input with its reject error for aggregate reporting.
type Rejection struct {
	Raw string
	Err error
}

// Normalizer applies one country's local dialing rules.
type Normalizer struct {
	Region      string // ISO 3166 alpha-2, e.g. "UG"
	CountryCode string // Dialing code without '+', e.g. "256"
}

// New creates a normalizer for the given region code.
func New(region string) (*Normalizer, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	cc := phonenumbers.GetCountryCodeForRegion(region)
	if cc == 0 {
		return nil, fmt.Errorf("unsupported region %q", region)
	}
	return &Normalizer{Region: region, CountryCode: strconv.Itoa(cc)}, nil
}

// Normalize returns the E.164 form of raw, or a *RejectError.
func (n *Normalizer) Normalize(raw string) (string, error) {
	candidate, err := n.rewrite(raw)
	if err != nil {
		return "", &RejectError{Raw: raw, Reason: err}
	}

	num, err := phonenumbers.Parse(candidate, n.Region)
	if err != nil {
		return "", &RejectError{Raw: raw, Reason: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	if phonenumbers.IsPossibleNumberWithReason(num) == phonenumbers.TOO_SHORT {
		return "", &RejectError{Raw: raw, Reason: ErrTooShort}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &RejectError{Raw: raw, Reason: ErrInvalid}
	}
	if !phonenumbers.IsValidNumberForRegion(num, n.Region) {
		return "", &RejectError{Raw: raw, Reason: ErrWrongCountry}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeAll normalizes every input, keeping source order for accepted values.
func (n *Normalizer) NormalizeAll(raws []string) ([]string, []Rejection) {
	valid := make([]string, 0, len(raws))
	var rejected []Rejection
	for _, raw := range raws {
		e164, err := n.Normalize(raw)
		if err != nil {
			rejected = append(rejected, Rejection{Raw: raw, Err: err})
			continue
		}
		valid = append(valid, e164)
	}
	return valid, rejected
}

// rewrite applies the local dialing rules and returns a '+'-prefixed candidate.
func (n *Normalizer) rewrite(raw string) (string, error) {
	digits, international := strip(raw)
	if digits == "" {
		return "", ErrEmpty
	}

	switch {
	case international:
		// already international
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, n.CountryCode) && len(digits) >= len(n.CountryCode)+minSubscriberDigits+2:
		// country code without '+'
	case strings.HasPrefix(digits, "0"):
		digits = n.CountryCode + digits[1:]
	default:
		digits = n.CountryCode + digits
	}

	if len(digits) < len(n.CountryCode)+minSubscriberDigits {
		return "", ErrTooShort
	}
	return "+" + digits, nil
}

// strip drops everything but digits, reporting whether a leading '+' was present.
func strip(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	international := strings.HasPrefix(raw, "+")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String(), international
}
