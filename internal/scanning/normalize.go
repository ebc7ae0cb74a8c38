package scanning

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	// UnknownVendor is used when neither the extraction nor the caller names a vendor
	UnknownVendor = "Unknown Vendor"

	// DateLayout is the only date format an ExtractedReceipt carries
	DateLayout = "2006-01-02"
)

// ExtractedReceipt is the validated result of one extraction attempt.
// Every field is always populated.
type ExtractedReceipt struct {
	Vendor string  `json:"vendor"`
	Amount float64 `json:"amount"`
	Date   string  `json:"date"` // YYYY-MM-DD
}

var (
	amountNoise    = strings.NewReplacer("$", "", "£", "", "€", "", ",", "")
	leadingDecimal = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)([eE][+-]?\d+)?`)
	hasDigit       = regexp.MustCompile(`\d`)
)

// Normalize converts a raw extraction result into an ExtractedReceipt. It never
// fails: anything missing or malformed is replaced by its fallback. An empty
// fallbackVendorHint means no hint. now supplies the fallback date.
func Normalize(raw Raw, fallbackVendorHint string, now time.Time) ExtractedReceipt {
	candidate := raw.Object
	if candidate == nil {
		candidate = extractObject(raw.Text)
	}

	return ExtractedReceipt{
		Vendor: normalizeVendor(candidate["vendor"], fallbackVendorHint),
		Amount: normalizeAmount(candidate["amount"]),
		Date:   normalizeDate(candidate["date"], now),
	}
}

// FallbackFields reports which fields of ex hold the values Normalize uses when
// it has nothing better. A genuine extraction can coincide with a fallback, so
// the result signals low confidence rather than failure.
func FallbackFields(ex ExtractedReceipt, fallbackVendorHint string, now time.Time) []string {
	var fields []string
	if ex.Vendor == UnknownVendor || (strings.TrimSpace(fallbackVendorHint) != "" && ex.Vendor == fallbackVendorHint) {
		fields = append(fields, "vendor")
	}
	if ex.Amount == 0 {
		fields = append(fields, "amount")
	}
	if ex.Date == now.Format(DateLayout) {
		fields = append(fields, "date")
	}
	return fields
}

// extractObject decodes the span from the first "{" to the last "}" of text.
// Nested or multiple objects are not considered separately.
func extractObject(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func normalizeVendor(v any, hint string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if strings.TrimSpace(hint) != "" {
		return hint
	}
	return UnknownVendor
}

func normalizeAmount(v any) float64 {
	switch n := v.(type) {
	case float64:
		return finiteOrZero(n)
	case float32:
		return finiteOrZero(float64(n))
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return finiteOrZero(f)
	case string:
		return parseAmount(n)
	}
	return 0
}

// parseAmount reads the leading decimal number of s once currency symbols and
// thousands separators are gone, so "42.18 USD" is 42.18 and "USD 42.18" is 0.
func parseAmount(s string) float64 {
	s = strings.TrimSpace(amountNoise.Replace(s))
	match := leadingDecimal.FindString(s)
	if match == "" {
		return 0
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return finiteOrZero(f)
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func normalizeDate(v any, now time.Time) string {
	switch d := v.(type) {
	case string:
		if t, ok := parseDate(d); ok {
			return t.Format(DateLayout)
		}
	case time.Time:
		if validYear(d) {
			return d.Format(DateLayout)
		}
	}
	return now.Format(DateLayout)
}

// parseDate accepts ISO dates and timestamps as well as the usual written
// forms ("July 5, 2023", "07/05/2023"). The calendar date is taken in the
// offset the string states, or UTC when it states none. A month without a day
// ("March 2023") does not parse; a bare 10-digit string is unix seconds.
func parseDate(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if !hasDigit.MatchString(s) {
		return time.Time{}, false
	}

	// dateparse has panicked on fuzzed input in the past.
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil || !validYear(t) {
		return time.Time{}, false
	}
	return t, true
}

func validYear(t time.Time) bool {
	return t.Year() >= 1 && t.Year() <= 9999
}
