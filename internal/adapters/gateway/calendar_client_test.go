package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/core/domain"
)

func newTestCalendar(t *testing.T, url, tz string) *GoogleCalendar {
	t.Helper()
	g, err := NewGoogleCalendarWithClient(http.DefaultClient, CalendarConfig{
		BaseURL:    url,
		CalendarID: "rooms@hotel.example",
		Timezone:   tz,
	})
	require.NoError(t, err)
	g.policy = fastPolicy
	t.Cleanup(g.Close)
	return g
}

func freeBusy(busy ...[2]string) string {
	periods := make([]map[string]string, 0, len(busy))
	for _, b := range busy {
		periods = append(periods, map[string]string{"start": b[0], "end": b[1]})
	}
	out, _ := json.Marshal(map[string]any{
		"calendars": map[string]any{"rooms@hotel.example": map[string]any{"busy": periods}},
	})
	return string(out)
}

func march(day int) time.Time {
	return time.Date(2027, 3, day, 0, 0, 0, 0, time.UTC)
}

func TestGoogleCalendar_FullyBooked(t *testing.T) {
	stay := domain.DateRange{CheckIn: march(10), CheckOut: march(13)}

	cases := []struct {
		name string
		busy [][2]string
		want bool
	}{
		{"free", nil, false},
		{"partial day", [][2]string{{"2027-03-11T10:00:00Z", "2027-03-11T18:00:00Z"}}, false},
		{"whole night", [][2]string{{"2027-03-11T00:00:00Z", "2027-03-12T00:00:00Z"}}, true},
		{"adjacent blocks cover a day", [][2]string{
			{"2027-03-12T12:00:00Z", "2027-03-13T00:00:00Z"},
			{"2027-03-12T00:00:00Z", "2027-03-12T12:00:00Z"},
		}, true},
		{"checkout day does not count", [][2]string{{"2027-03-13T00:00:00Z", "2027-03-14T00:00:00Z"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req freeBusyRequest
			srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/freeBusy", r.URL.Path)
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				respond(http.StatusOK, freeBusy(tc.busy...))(w, r)
			})

			booked, err := newTestCalendar(t, srv.URL, "UTC").FullyBooked(context.Background(), stay)
			require.NoError(t, err)
			assert.Equal(t, tc.want, booked)
			assert.Equal(t, "2027-03-10T00:00:00Z", req.TimeMin)
			assert.Equal(t, "2027-03-13T00:00:00Z", req.TimeMax)
			assert.Equal(t, "rooms@hotel.example", req.Items[0].ID)
		})
	}
}

func TestGoogleCalendar_UsesPropertyTimezone(t *testing.T) {
	// A UTC-day block does not cover a Mexico City night
	srv := newScriptedServer(t, respond(http.StatusOK, freeBusy([2]string{"2027-03-10T00:00:00Z", "2027-03-11T00:00:00Z"})))
	g := newTestCalendar(t, srv.URL, "America/Mexico_City")

	booked, err := g.FullyBooked(context.Background(), domain.DateRange{CheckIn: march(10), CheckOut: march(11)})
	require.NoError(t, err)
	assert.False(t, booked)
}

func TestGoogleCalendar_CachesAnswers(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusOK, freeBusy()))
	g := newTestCalendar(t, srv.URL, "")
	stay := domain.DateRange{CheckIn: march(10), CheckOut: march(12)}

	_, err := g.FullyBooked(context.Background(), stay)
	require.NoError(t, err)
	g.cache.Wait()
	_, err = g.FullyBooked(context.Background(), stay)
	require.NoError(t, err)

	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestGoogleCalendar_Errors(t *testing.T) {
	stay := domain.DateRange{CheckIn: march(10), CheckOut: march(12)}

	srv := newScriptedServer(t, respond(http.StatusInternalServerError, `boom`))
	_, err := newTestCalendar(t, srv.URL, "").FullyBooked(context.Background(), stay)
	assert.Error(t, err)
	assert.Equal(t, int32(2), srv.hits.Load(), "two attempts")

	notFound := `{"calendars":{"rooms@hotel.example":{"errors":[{"domain":"global","reason":"notFound"}]}}}`
	srv = newScriptedServer(t, respond(http.StatusOK, notFound))
	_, err = newTestCalendar(t, srv.URL, "").FullyBooked(context.Background(), stay)
	assert.ErrorContains(t, err, "notFound")

	_, err = NewGoogleCalendarWithClient(http.DefaultClient, CalendarConfig{})
	assert.Error(t, err)
	_, err = NewGoogleCalendarWithClient(http.DefaultClient, CalendarConfig{CalendarID: "x", Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestStaticCalendar(t *testing.T) {
	cal, err := NewStaticCalendar([]string{"2027-03-11", " "})
	require.NoError(t, err)

	booked, err := cal.FullyBooked(context.Background(), domain.DateRange{CheckIn: march(10), CheckOut: march(12)})
	require.NoError(t, err)
	assert.True(t, booked)

	booked, err = cal.FullyBooked(context.Background(), domain.DateRange{CheckIn: march(12), CheckOut: march(15)})
	require.NoError(t, err)
	assert.False(t, booked)

	_, err = NewStaticCalendar([]string{"March 11"})
	assert.Error(t, err)
}
