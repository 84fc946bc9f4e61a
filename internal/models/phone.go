package models

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone returns phone in E.164 form, parsing numbers without a
// country prefix against region. Empty input stays empty.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	p, err := libphonenumber.Parse(phone, region)
	if err != nil {
		return "", fmt.Errorf("%q: %v: %w", phone, err, ErrInvalidArgument)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("%q is not a valid phone number: %w", phone, ErrInvalidArgument)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
