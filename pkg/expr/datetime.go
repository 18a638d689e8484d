package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateTime exposes a point in time to expressions as `$now` and `$today`
type DateTime struct {
	t time.Time
}

// NewDateTime wraps t for use in a Scope
func NewDateTime(t time.Time) DateTime {
	return DateTime{t: t}
}

// Today returns midnight of the day containing t, in t's location
func Today(t time.Time) DateTime {
	y, m, d := t.Date()
	return DateTime{t: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

// Time returns the wrapped time
func (d DateTime) Time() time.Time {
	return d.t
}

func (d DateTime) String() string {
	return d.t.Format(time.RFC3339Nano)
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Member implements Object
func (d DateTime) Member(name string) (any, bool) {
	switch name {
	case "year":
		return float64(d.t.Year()), true
	case "month":
		return float64(d.t.Month()), true
	case "day":
		return float64(d.t.Day()), true
	case "hour":
		return float64(d.t.Hour()), true
	case "minute":
		return float64(d.t.Minute()), true
	case "second":
		return float64(d.t.Second()), true
	case "millisecond":
		return float64(d.t.Nanosecond() / int(time.Millisecond)), true
	case "weekday":
		// Monday is 1, Sunday is 7
		wd := int(d.t.Weekday())
		if wd == 0 {
			wd = 7
		}
		return float64(wd), true
	case "toISO":
		return Func(func(...any) (any, error) {
			return d.String(), nil
		}), true
	case "toMillis":
		return Func(func(...any) (any, error) {
			return float64(d.t.UnixMilli()), nil
		}), true
	case "toSeconds":
		return Func(func(...any) (any, error) {
			return float64(d.t.Unix()), nil
		}), true
	case "format":
		return Func(d.format), true
	case "plus":
		return Func(func(args ...any) (any, error) {
			return d.shift(1, args)
		}), true
	case "minus":
		return Func(func(args ...any) (any, error) {
			return d.shift(-1, args)
		}), true
	}
	return nil, false
}

func (d DateTime) format(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: format expects a layout", ErrBadOperand)
	}
	layout, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: format layout must be a string",
			ErrBadOperand)
	}
	return d.t.Format(layout), nil
}

func (d DateTime) shift(sign int, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: expected amount and unit", ErrBadOperand)
	}
	amount, ok := numeric(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: amount must be a number", ErrBadOperand)
	}
	unit, _ := args[1].(string)
	amount *= float64(sign)

	// sub-day units accept fractions; calendar units need whole numbers
	var step time.Duration
	switch u := strings.TrimSuffix(strings.ToLower(unit), "s"); u {
	case "millisecond":
		step = time.Millisecond
	case "second":
		step = time.Second
	case "minute":
		step = time.Minute
	case "hour":
		step = time.Hour
	case "day", "week", "month", "year":
		if amount != math.Trunc(amount) {
			return nil, fmt.Errorf("%w: %s amount must be a whole number",
				ErrBadOperand, u)
		}
		n := int(amount)
		switch u {
		case "day":
			return DateTime{t: d.t.AddDate(0, 0, n)}, nil
		case "week":
			return DateTime{t: d.t.AddDate(0, 0, 7*n)}, nil
		case "month":
			return DateTime{t: d.t.AddDate(0, n, 0)}, nil
		}
		return DateTime{t: d.t.AddDate(n, 0, 0)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown unit %q", ErrBadOperand, unit)
	}
	return DateTime{t: d.t.Add(time.Duration(amount * float64(step)))}, nil
}
