package worker

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ignite/fleet-import/internal/domain"
)

var (
	// Mercosul pattern (ABC1D23) and the pre-2018 format (ABC1234),
	// both still on the road.
	plateMercosul = regexp.MustCompile(`^[A-Z]{3}[0-9][A-Z0-9][0-9]{2}$`)
	plateOld      = regexp.MustCompile(`^[A-Z]{3}[0-9]{4}$`)
)

// ValidPlate reports whether v is an acceptable license plate. Input is
// expected upper-cased (Coerce does that for plate columns).
func ValidPlate(v string) bool {
	return plateMercosul.MatchString(v) || plateOld.MatchString(v)
}

// CheckValue applies the column's declared validator to a coerced value.
func CheckValue(c *domain.ColumnMapping, value any) error {
	if value == nil || c.Validate == "" {
		return nil
	}
	switch c.Validate {
	case domain.ValidatePlate:
		s, ok := value.(string)
		if !ok || !ValidPlate(s) {
			return fmt.Errorf("invalid plate %q", value)
		}
	case domain.ValidateYear:
		n, ok := value.(int64)
		max := int64(time.Now().Year() + 1)
		if !ok || n < 1900 || n > max {
			return fmt.Errorf("year %v out of range 1900..%d", value, max)
		}
	case domain.ValidatePositive:
		f, err := asFloat(value)
		if err != nil || f <= 0 {
			return fmt.Errorf("value %v must be greater than zero", value)
		}
	}
	return nil
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("not numeric")
}
