package estimator

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Default display settings: US English with US dollars.
const (
	DefaultLocale   = "en-US"
	DefaultCurrency = "USD"
)

// Formatter renders prices for display only; stored values keep full precision.
type Formatter struct {
	tag     language.Tag
	unit    currency.Unit
	printer *message.Printer
}

// NewFormatter parses a BCP 47 locale and an ISO 4217 currency code.
func NewFormatter(locale, code string) (*Formatter, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	if code == "" {
		code = DefaultCurrency
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", code, err)
	}
	return &Formatter{tag: tag, unit: unit, printer: message.NewPrinter(tag)}, nil
}

// MustFormatter is NewFormatter for fixed, known-good arguments.
func MustFormatter(locale, code string) *Formatter {
	f, err := NewFormatter(locale, code)
	if err != nil {
		panic(err)
	}
	return f
}

// Format renders v with the currency symbol for the configured locale.
// Non-finite values are printed as-is.
func (f *Formatter) Format(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(v)))
}

// FormatDecimal renders a decimal amount such as a table total.
func (f *Formatter) FormatDecimal(d decimal.Decimal) string {
	v, _ := d.Float64()
	return f.Format(v)
}

// Locale reports the language tag in use.
func (f *Formatter) Locale() language.Tag { return f.tag }

// Currency reports the ISO code in use.
func (f *Formatter) Currency() string { return f.unit.String() }
