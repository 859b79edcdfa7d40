package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	priceMaxDigits     = 5
	priceDecimalPlaces = 2
)

// Price is a non-negative amount with two decimal places, held as integer cents.
// It encodes to JSON as a string ("5.00") and decodes from a JSON number or string.
type Price int64

// PriceError describes why a price could not be parsed.
type PriceError struct {
	Msg string
}

func (e *PriceError) Error() string {
	return e.Msg
}

// ParsePrice parses a decimal string such as "5", "5.5" or "12.99".
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)

	invalid := &PriceError{Msg: "A valid number is required."}

	negative := false

	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, invalid
	}

	if !isDigits(whole) || !isDigits(frac) {
		return 0, invalid
	}

	whole = strings.TrimLeft(whole, "0")

	if len(whole)+len(frac) > priceMaxDigits {
		return 0, &PriceError{
			Msg: fmt.Sprintf("Ensure that there are no more than %d digits in total.", priceMaxDigits),
		}
	}

	if len(frac) > priceDecimalPlaces {
		return 0, &PriceError{
			Msg: fmt.Sprintf("Ensure that there are no more than %d decimal places.", priceDecimalPlaces),
		}
	}

	if len(whole) > priceMaxDigits-priceDecimalPlaces {
		return 0, &PriceError{
			Msg: fmt.Sprintf("Ensure that there are no more than %d digits before the decimal point.",
				priceMaxDigits-priceDecimalPlaces),
		}
	}

	frac += strings.Repeat("0", priceDecimalPlaces-len(frac))

	cents, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, invalid
	}

	if negative && cents != 0 {
		return 0, &PriceError{Msg: "Ensure this value is greater than or equal to 0."}
	}

	return Price(cents), nil
}

// MustParsePrice is like ParsePrice but panics on error. Intended for tests and constants.
func MustParsePrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}

	return p
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// Cents returns the price in cents.
func (p Price) Cents() int64 {
	return int64(p)
}

// MaxPrice is the largest representable price, 999.99.
const MaxPrice Price = 99999

// Valid reports whether p is within 0..MaxPrice.
func (p Price) Valid() bool {
	return p >= 0 && p <= MaxPrice
}

// String formats the price with two decimal places.
func (p Price) String() string {
	return fmt.Sprintf("%d.%02d", int64(p)/100, int64(p)%100)
}

// MarshalJSON encodes the price as a decimal string.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a JSON number or string.
func (p *Price) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return &PriceError{Msg: "A valid number is required."}
		}
	}

	parsed, err := ParsePrice(raw)
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// Value implements driver.Valuer.
func (p Price) Value() (driver.Value, error) {
	return int64(p), nil
}

// Scan implements sql.Scanner.
func (p *Price) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*p = Price(v)
	case nil:
		*p = 0
	case []byte:
		cents, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scanning price: %w", err)
		}

		*p = Price(cents)
	default:
		return fmt.Errorf("scanning price: unsupported type %T", src)
	}

	return nil
}
