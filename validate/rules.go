package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Result is the outcome of one rule.
type Result struct {
	Valid   bool
	Message string
}

// OK is the valid result.
var OK = Result{Valid: true}

func fail(message string) Result {
	return Result{Message: message}
}

// Rule is any single-field validator.
type Rule func(value string) Result

// PasswordContext selects which password policy applies.
type PasswordContext uint8

const (
	// ContextLogin accepts shorter legacy secrets.
	ContextLogin PasswordContext = iota
	// ContextRegistration requires length and composition.
	ContextRegistration
)

const (
	loginPasswordMin        = 6
	registrationPasswordMin = 8
	nameMin                 = 2
	nameMax                 = 20
)

var addresses = validator.New(validator.WithRequiredStructEnabled())

// Email checks value against the standard address grammar.
func Email(value string) Result {
	value = strings.TrimSpace(value)
	if value == "" {
		return fail("Email is required.")
	}
	if err := addresses.Var(value, "email"); err != nil {
		return fail("Enter a valid email address.")
	}
	return OK
}

// Password applies the policy for ctx.
func Password(value string, ctx PasswordContext) Result {
	if value == "" {
		return fail("Password is required.")
	}

	length := utf8.RuneCountInString(value)
	if ctx == ContextLogin {
		if length < loginPasswordMin {
			return fail(fmt.Sprintf("Password must be at least %d characters.", loginPasswordMin))
		}
		return OK
	}

	if length < registrationPasswordMin {
		return fail(fmt.Sprintf("Password must be at least %d characters.", registrationPasswordMin))
	}
	var letter, digit bool
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fail("Password must contain at least one letter and one number.")
	}
	return OK
}

// PasswordRule adapts Password to a Rule.
func PasswordRule(ctx PasswordContext) Rule {
	return func(value string) Result { return Password(value, ctx) }
}

// Name bounds a display name to 2..20 characters after trimming.
func Name(value string) Result {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < nameMin || n > nameMax {
		return fail(fmt.Sprintf("Name must be between %d and %d characters.", nameMin, nameMax))
	}
	return OK
}

type lengthRange struct{ min, max int }

// nationalLengths lists plausible national significant number lengths.
var nationalLengths = map[string]lengthRange{
	"1":   {10, 10},
	"7":   {10, 10},
	"33":  {9, 9},
	"34":  {9, 9},
	"39":  {6, 11},
	"44":  {9, 10},
	"49":  {6, 11},
	"55":  {10, 11},
	"61":  {9, 9},
	"81":  {9, 10},
	"82":  {8, 10},
	"86":  {11, 11},
	"91":  {10, 10},
	"234": {8, 10},
	"971": {8, 9},
}

// defaultLengths applies to unknown prefixes; 15 is the E.164 ceiling.
var defaultLengths = lengthRange{6, 15}

// Phone validates an optional national number for countryPrefix ("+44", "44").
// An empty value is valid.
func Phone(value, countryPrefix string) Result {
	value = strings.TrimSpace(value)
	if value == "" {
		return OK
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return fail("Phone number may contain digits only.")
		}
	}

	bounds, ok := nationalLengths[strings.TrimPrefix(strings.TrimSpace(countryPrefix), "+")]
	if !ok {
		bounds = defaultLengths
	}
	if len(value) < bounds.min || len(value) > bounds.max {
		if bounds.min == bounds.max {
			return fail(fmt.Sprintf("Phone number must be %d digits.", bounds.min))
		}
		return fail(fmt.Sprintf("Phone number must be %d to %d digits.", bounds.min, bounds.max))
	}
	return OK
}

// PhoneRule adapts Phone to a Rule for a fixed prefix.
func PhoneRule(countryPrefix string) Rule {
	return func(value string) Result { return Phone(value, countryPrefix) }
}
