package currency

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/currency"
)

var (
	ErrInvalidCode = errors.New("invalid iso 4217 currency code")
)

// Code is a lowercase ISO 4217 currency code.
type Code string

// NewCode parses and validates an ISO 4217 currency code.
func NewCode(value string) (Code, error) {
	unit, err := currency.ParseISO(value)
	if err != nil {
		return "", ErrInvalidCode
	}
	return Code(strings.ToLower(unit.String())), nil
}

func (c Code) String() string {
	return string(c)
}

// Equals compares two codes ignoring case.
func (c Code) Equals(other Code) bool {
	return strings.EqualFold(string(c), string(other))
}

// Symbol returns the uppercase ISO representation, which is what the PSP
// wire format expects.
func (c Code) Symbol() string {
	return strings.ToUpper(string(c))
}
