package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the length of the clock face in minutes
const MinutesPerDay = 24 * 60

// ClockTime is a time of day in minutes since midnight, encoded as "HH:MM"
type ClockTime int

// NewClockTime builds a ClockTime, wrapping around midnight
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(0).Add(hour*60 + minute)
}

// ParseClockTime parses "HH:MM" in 24-hour form
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock time %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// Add shifts the time by a signed number of minutes, wrapping around midnight
func (c ClockTime) Add(minutes int) ClockTime {
	v := (int(c) + minutes) % MinutesPerDay
	if v < 0 {
		v += MinutesPerDay
	}
	return ClockTime(v)
}

// Hour returns the hour component
func (c ClockTime) Hour() int { return int(c) / 60 }

// Minute returns the minute component
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
