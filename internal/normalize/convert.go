package normalize

// convert.go coerces mapped text attributes into typed values.
//
// Source archives are noisy: prices sometimes carry currency symbols or
// thousands separators, and dates that do not parse are common in the older
// layout. Every function returns a pgtype value with Valid=false for empty
// or unparseable input so the failure degrades to null.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DateLayout is the canonical date encoding of mapped records.
const DateLayout = "20060102"

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ToDate converts YYYYMMDD text to pgtype.Date.
func ToDate(t pgtype.Text) pgtype.Date {
	if !t.Valid {
		return pgtype.Date{}
	}
	s := strings.TrimSpace(t.String)
	if len(s) != len(DateLayout) {
		return pgtype.Date{}
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d, Valid: true}
}

// ToFloat8 converts text to pgtype.Float8.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToFloat8(t pgtype.Text) pgtype.Float8 {
	if !t.Valid {
		return pgtype.Float8{}
	}
	s := strings.TrimSpace(t.String)
	if s == "" {
		return pgtype.Float8{}
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Float8{}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: f, Valid: true}
}

// badText reports whether a non-null text attribute failed to coerce.
func badText(src pgtype.Text, valid bool) bool {
	return src.Valid && strings.TrimSpace(src.String) != "" && !valid
}
