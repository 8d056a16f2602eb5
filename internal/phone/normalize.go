// Package phone canonicalizes customer phone numbers using the country hints
// that come with orders and checkouts.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Result is the outcome of a normalization attempt. Canonical is E.164
// without the leading plus, which is how numbers are stored and compared.
type Result struct {
	IsValid     bool   `json:"isValid"`
	Canonical   string `json:"canonicalNumber,omitempty"`
	UsedCountry string `json:"usedCountry,omitempty"`
}

// Normalize tries the shipping hint, then the billing hint, then no hint at all.
func Normalize(raw, shippingCountry, billingCountry string) Result {
	return NormalizeWithDefault(raw, shippingCountry, billingCountry, "")
}

// NormalizeWithDefault behaves like Normalize and, when every attempt fails
// and the input has no leading plus, retries once with defaultCountry
// prepended. defaultCountry may be a dial code ("212") or a region ("MA").
func NormalizeWithDefault(raw, shippingCountry, billingCountry, defaultCountry string) Result {
	cleaned := clean(raw)
	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" {
		return Result{}
	}

	tried := map[string]bool{}
	for _, hint := range []string{shippingCountry, billingCountry} {
		region := strings.ToUpper(strings.TrimSpace(hint))
		if region == "" || tried[region] {
			continue
		}
		tried[region] = true
		if res, ok := attempt(cleaned, region); ok {
			return res
		}
	}

	if res, ok := attempt("+"+digits, ""); ok {
		return res
	}

	if defaultCountry == "" || strings.HasPrefix(cleaned, "+") {
		return Result{}
	}
	dialCode := dialCodeFor(defaultCountry)
	if dialCode == "" {
		return Result{}
	}
	national := strings.TrimLeft(digits, "0")
	if res, ok := attempt("+"+dialCode+national, ""); ok {
		return res
	}
	return Result{}
}

func attempt(number, region string) (Result, bool) {
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return Result{}, false
	}
	used := region
	if used == "" {
		used = phonenumbers.GetRegionCodeForNumber(parsed)
	}
	e164 := phonenumbers.Format(parsed, phonenumbers.E164)
	return Result{
		IsValid:     true,
		Canonical:   strings.TrimPrefix(e164, "+"),
		UsedCountry: used,
	}, true
}

func dialCodeFor(country string) string {
	country = strings.TrimPrefix(strings.TrimSpace(country), "+")
	if country == "" {
		return ""
	}
	if _, err := strconv.Atoi(country); err == nil {
		return country
	}
	code := phonenumbers.GetCountryCodeForRegion(strings.ToUpper(country))
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

// clean keeps digits and a single leading plus.
func clean(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Digits strips everything but digits. Used for WhatsApp JIDs and stored numbers.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
