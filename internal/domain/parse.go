package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyInput   = errors.New("empty input")
	ErrNotNumeric   = errors.New("numbers only")
	ErrBadLength    = errors.New("wrong length")
	ErrBadAgeGroup  = errors.New("unknown age group")
	ErrBadDose      = errors.New("unknown dose")
	ErrBadDelay     = errors.New("invalid delay")
	ErrUnknownValue = errors.New("unknown value")
)

// ParsePincode validates a 6-digit pincode.
func ParsePincode(s string) (string, error) {
	return parseDigits(s, 6)
}

// ParseMobile validates a 10-digit mobile number.
func ParseMobile(s string) (string, error) {
	return parseDigits(s, 10)
}

// ParseOTP validates a numeric OTP of any length.
func ParseOTP(s string) (string, error) {
	return parseDigits(s, 0)
}

func parseDigits(s string, length int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyInput
	}
	if length > 0 && len(s) != length {
		return "", fmt.Errorf("%w: want %d digits", ErrBadLength, length)
	}
	if !isAllDigits(s) {
		return "", ErrNotNumeric
	}
	return s, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseAgeGroup accepts "18" or "45".
func ParseAgeGroup(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || (n != AgeGroup18 && n != AgeGroup45) {
		return 0, fmt.Errorf("%w: %q", ErrBadAgeGroup, s)
	}
	return n, nil
}

// ParseDose accepts "0" (any), "1" or "2".
func ParseDose(s string) (Dose, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadDose, s)
	}
	return Dose(n), nil
}

// ParseVaccine matches one of Vaccines.
func ParseVaccine(s string) (Vaccine, error) {
	for _, v := range Vaccines() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValue, s)
}

// ParseFeeType matches one of FeeTypes.
func ParseFeeType(s string) (FeeType, error) {
	for _, f := range FeeTypes() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValue, s)
}

// ParseDelay parses an operator-supplied poll delay: a Go duration ("3s", "250ms")
// or a plain number of milliseconds.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyInput
	}
	if isAllDigits(s) {
		ms, _ := strconv.Atoi(s)
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s", ErrBadDelay, s)
	}
	return d, nil
}

// SnoozePreset is a selectable snooze duration.
type SnoozePreset struct {
	Name     string
	Duration time.Duration
}

// SnoozePresets lists the snooze choices offered to users.
func SnoozePresets() []SnoozePreset {
	return []SnoozePreset{
		{"10min", 10 * time.Minute},
		{"20min", 20 * time.Minute},
		{"45min", 45 * time.Minute},
		{"1hr", time.Hour},
		{"2hr", 2 * time.Hour},
		{"4hr", 4 * time.Hour},
		{"6hr", 6 * time.Hour},
		{"8hr", 8 * time.Hour},
		{"10hr", 10 * time.Hour},
		{"12hr", 12 * time.Hour},
		{"18hr", 18 * time.Hour},
	}
}

// FindSnoozePreset returns the preset with the given duration in seconds.
func FindSnoozePreset(seconds int) (SnoozePreset, bool) {
	for _, p := range SnoozePresets() {
		if int(p.Duration.Seconds()) == seconds {
			return p, true
		}
	}
	return SnoozePreset{}, false
}
