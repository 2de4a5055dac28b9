package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/oauth2"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/resilience"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

var _ ports.AvailabilityOracle = (*GoogleCalendar)(nil)

// CalendarConfig configures the Google Calendar availability oracle
type CalendarConfig struct {
	BaseURL      string // e.g. https://www.googleapis.com/calendar/v3
	CalendarID   string
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string // empty uses Google's
	Timezone     string // property timezone, e.g. "America/Mexico_City"
	CacheTTL     time.Duration
}

// GoogleCalendar answers availability from the busy blocks of the hotel's
// booking calendar. A night is fully booked when busy time covers all of it.
type GoogleCalendar struct {
	httpClient *http.Client
	cfg        CalendarConfig
	loc        *time.Location
	cache      *ristretto.Cache[string, bool]
	policy     resilience.Policy
}

// NewGoogleCalendar creates the oracle with an OAuth2 refresh-token client
func NewGoogleCalendar(ctx context.Context, cfg CalendarConfig) (*GoogleCalendar, error) {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	client := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return NewGoogleCalendarWithClient(client, cfg)
}

// NewGoogleCalendarWithClient creates the oracle on an already authorized client
func NewGoogleCalendarWithClient(client *http.Client, cfg CalendarConfig) (*GoogleCalendar, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar id is required")
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("load calendar timezone: %w", err)
		}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create availability cache: %w", err)
	}
	return &GoogleCalendar{
		httpClient: client,
		cfg:        cfg,
		loc:        loc,
		cache:      cache,
		policy: resilience.Policy{
			Attempts:       2,
			Base:           500 * time.Millisecond,
			AttemptTimeout: 10 * time.Second,
		},
	}, nil
}

// Close releases the cache
func (g *GoogleCalendar) Close() {
	g.cache.Close()
}

type freeBusyRequest struct {
	TimeMin  string         `json:"timeMin"`
	TimeMax  string         `json:"timeMax"`
	TimeZone string         `json:"timeZone"`
	Items    []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type busyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy   []busyPeriod `json:"busy"`
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"calendars"`
}

// FullyBooked implements ports.AvailabilityOracle
func (g *GoogleCalendar) FullyBooked(ctx context.Context, stay domain.DateRange) (bool, error) {
	key := stay.CheckIn.Format(time.DateOnly) + "/" + stay.CheckOut.Format(time.DateOnly)
	if booked, ok := g.cache.Get(key); ok {
		return booked, nil
	}

	days := g.nights(stay)
	if len(days) == 0 {
		return false, nil
	}
	busy, err := g.busy(ctx, days[0], days[len(days)-1].AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}

	booked := anyDayCovered(days, busy)
	g.cache.SetWithTTL(key, booked, 1, g.cfg.CacheTTL)
	slog.Debug("Availability checked",
		"check_in", stay.CheckIn.Format(time.DateOnly),
		"check_out", stay.CheckOut.Format(time.DateOnly),
		"busy_periods", len(busy),
		"fully_booked", booked,
	)
	return booked, nil
}

// nights returns local midnight of each night of the stay
func (g *GoogleCalendar) nights(stay domain.DateRange) []time.Time {
	var days []time.Time
	for _, d := range stay.Days() {
		days = append(days, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, g.loc))
	}
	return days
}

func (g *GoogleCalendar) busy(ctx context.Context, from, to time.Time) ([]busyPeriod, error) {
	body, err := json.Marshal(freeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: g.loc.String(),
		Items:    []freeBusyItem{{ID: g.cfg.CalendarID}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal freebusy request: %w", err)
	}

	var resp freeBusyResponse
	err = g.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(g.cfg.BaseURL, "/")+"/freeBusy", bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		respBody, err := call(g.httpClient, req, "calendar")
		if err != nil {
			return err
		}
		return json.Unmarshal(respBody, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("query calendar freebusy: %w", err)
	}

	cal, ok := resp.Calendars[g.cfg.CalendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %s missing from freebusy response", g.cfg.CalendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar %s: %s", g.cfg.CalendarID, cal.Errors[0].Reason)
	}
	return cal.Busy, nil
}

// anyDayCovered merges busy periods and reports whether one of them spans a
// whole day
func anyDayCovered(days []time.Time, busy []busyPeriod) bool {
	if len(busy) == 0 {
		return false
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	merged := []busyPeriod{busy[0]}
	for _, p := range busy[1:] {
		last := &merged[len(merged)-1]
		if !p.Start.After(last.End) {
			if p.End.After(last.End) {
				last.End = p.End
			}
			continue
		}
		merged = append(merged, p)
	}

	for _, day := range days {
		end := day.AddDate(0, 0, 1)
		for _, p := range merged {
			if !p.Start.After(day) && !p.End.Before(end) {
				return true
			}
		}
	}
	return false
}
