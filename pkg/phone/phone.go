// Package phone validates phone numbers and normalizes them to E.164.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "NG"

// ErrInvalid is returned for numbers that do not parse or are not
// assignable in their region.
var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw and returns it in E.164 form. An empty input is
// returned unchanged.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
