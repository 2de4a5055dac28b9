package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

var _ ports.AvailabilityOracle = (*StaticCalendar)(nil)

// StaticCalendar is an availability oracle over a fixed list of sold-out
// nights. It serves development setups without a calendar account.
type StaticCalendar struct {
	blocked map[string]struct{}
}

// NewStaticCalendar parses YYYY-MM-DD dates
func NewStaticCalendar(dates []string) (*StaticCalendar, error) {
	blocked := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("blocked date %q: %w", d, err)
		}
		blocked[d] = struct{}{}
	}
	return &StaticCalendar{blocked: blocked}, nil
}

// FullyBooked implements ports.AvailabilityOracle
func (s *StaticCalendar) FullyBooked(_ context.Context, stay domain.DateRange) (bool, error) {
	for _, night := range stay.Days() {
		if _, ok := s.blocked[night.Format(time.DateOnly)]; ok {
			return true, nil
		}
	}
	return false, nil
}
