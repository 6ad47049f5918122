package worker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/fleet-import/internal/domain"
)

// Coerce converts one raw spreadsheet cell to the mapped column's typed
// value. Empty cells become nil (SQL NULL); required columns reject them
// upstream. Returned values are ready to hand to database/sql.
func Coerce(c *domain.ColumnMapping, raw string) (any, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}

	switch c.Type {
	case domain.FieldString, domain.FieldFK:
		if c.Validate == domain.ValidatePlate {
			v = strings.ToUpper(v)
		}
		return v, nil

	case domain.FieldInt:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
		// spreadsheets love to render 2020 as "2020.0"
		if f, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64); err == nil && f == float64(int64(f)) {
			return int64(f), nil
		}
		return nil, fmt.Errorf("%q is not an integer", raw)

	case domain.FieldFloat:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil

	case domain.FieldDecimal:
		norm, err := normalizeDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("%q is not a decimal value", raw)
		}
		return norm, nil

	case domain.FieldDate:
		for _, layout := range []string{"2006-01-02", "02/01/2006", "2006/01/02", "02-01-2006"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%q is not a date", raw)

	case domain.FieldDatetime:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "02/01/2006 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%q is not a datetime", raw)

	case domain.FieldBoolean:
		switch strings.ToLower(v) {
		case "true", "1", "yes", "sim":
			return true, nil
		case "false", "0", "no", "não", "nao":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", raw)
	}
	return nil, fmt.Errorf("unknown column type %q", c.Type)
}

// normalizeDecimal turns regional money strings ("R$ 45.000,50",
// "45,000.50", "45000.5") into a canonical dotted decimal string, which
// lib/pq passes to NUMERIC without float rounding.
func normalizeDecimal(v string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1 // strip currency symbols and spaces
		}
	}, v)
	if s == "" {
		return "", fmt.Errorf("empty after normalization")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		// comma is the decimal separator, dots are thousands
		s = strings.ReplaceAll(s, ".", "")
		i := strings.LastIndex(s, ",")
		s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
	default:
		// dot (or nothing) is the decimal separator, commas are thousands
		s = strings.ReplaceAll(s, ",", "")
	}

	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", err
	}
	return s, nil
}

// KeyValue normalizes a cell for duplicate detection: trimmed, and
// upper-cased for plate columns so "abc1d23" and "ABC1D23" collide.
func KeyValue(c *domain.ColumnMapping, raw string) string {
	v := strings.TrimSpace(raw)
	if c.Validate == domain.ValidatePlate {
		v = strings.ToUpper(v)
	}
	return v
}
