// Package phone normalizes and validates phone numbers for the Uzbek
// market: an international E.164 form or a local 9-digit form, both
// collapsing to the same stored representation.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid is returned when a phone string cannot be normalized.
var ErrInvalid = errors.New("phone: invalid number")

// e164Pattern matches the stored form: a leading + followed by 11 to 16
// digits.
var e164Pattern = regexp.MustCompile(`^\+\d{11,16}$`)

// localPattern matches a 9-digit Uzbek subscriber number starting 3-9,
// the form typically typed without a country code.
var localPattern = regexp.MustCompile(`^[3-9]\d{8}$`)

const uzCountryCode = "998"

// Normalize accepts "+998901234567", "998901234567", or "901234567" and
// returns "+998901234567" for all three. Any other shape is rejected.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")

	switch {
	case strings.HasPrefix(s, "+"):
		if e164Pattern.MatchString(s) {
			return s, nil
		}
	case strings.HasPrefix(s, uzCountryCode) && e164Pattern.MatchString("+"+s):
		return "+" + s, nil
	case localPattern.MatchString(s):
		return "+" + uzCountryCode + s, nil
	}

	return "", ErrInvalid
}

// Valid reports whether raw normalizes to a well-formed stored phone.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// ValidStored reports whether a value already in stored form matches the
// invariant `^\+\d{11,16}$` (used for validating data coming back out of
// the database rather than user input).
func ValidStored(stored string) bool {
	return e164Pattern.MatchString(stored)
}
