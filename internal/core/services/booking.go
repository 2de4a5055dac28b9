package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/parser"
	"hotel-concierge/internal/core/ports"
)

// Rates are nightly prices per guest
type Rates map[domain.RoomType]int

// DefaultRates are the built-in nightly prices per guest
var DefaultRates = Rates{
	domain.RoomStandard: 150,
	domain.RoomDeluxe:   250,
	domain.RoomSuite:    400,
}

// Quote computes total = nights x rate x guests
func (r Rates) Quote(room domain.RoomType, nights, guests int) (int, error) {
	rate, ok := r[room]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no rate for room type %q", room)
	}
	return nights * rate * guests, nil
}

// BookingStep is the outcome of one dialogue turn
type BookingStep struct {
	Reply string
	// Next replaces the stored state; nil clears the dialogue
	Next *domain.Booking
	// Escalate names a gated escalation reason, "" for none
	Escalate string
	// Confirmed carries the booking the guest accepted; it forces a handoff
	Confirmed *domain.Booking
}

// BookingDialogue drives dates -> guests -> room type -> confirmation
type BookingDialogue struct {
	parser ports.TextParser
	oracle ports.AvailabilityOracle
	rates  Rates
}

// NewBookingDialogue creates the dialogue; nil rates use DefaultRates
func NewBookingDialogue(p ports.TextParser, oracle ports.AvailabilityOracle, rates Rates) *BookingDialogue {
	if len(rates) == 0 {
		rates = DefaultRates
	}
	return &BookingDialogue{parser: p, oracle: oracle, rates: rates}
}

// Start opens a dialogue on booking intent. Dates given in the same message
// skip straight to the guest question.
func (d *BookingDialogue) Start(ctx context.Context, lang, text string) BookingStep {
	dates, err := d.parser.ParseRange(text)
	switch {
	case errors.Is(err, parser.ErrInvalidRange):
		return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyInvalidRange, nil), Next: domain.AwaitingDates()}
	case err != nil:
		return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyAskDates, nil), Next: domain.AwaitingDates()}
	}
	return d.checkDates(ctx, lang, dates)
}

// Advance feeds one user turn to an active dialogue
func (d *BookingDialogue) Advance(ctx context.Context, lang string, current *domain.Booking, text string) BookingStep {
	if current.Phase != domain.PhaseConfirming && d.parser.IsCancel(text) {
		return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyBookingCancelled, nil)}
	}

	switch current.Phase {
	case domain.PhaseAwaitingDates:
		dates, err := d.parser.ParseRange(text)
		if errors.Is(err, parser.ErrInvalidRange) {
			return d.reprompt(lang, current, parser.ReplyInvalidRange)
		}
		if err != nil {
			return d.reprompt(lang, current, parser.ReplyDatesNotUnderstood)
		}
		return d.checkDates(ctx, lang, dates)

	case domain.PhaseAwaitingGuests:
		guests, err := d.parser.ParseGuests(text)
		if err != nil {
			return d.reprompt(lang, current, parser.ReplyGuestsNotUnderstood)
		}
		next, err := current.AwaitingRoomType(guests)
		if err != nil {
			return d.broken(lang, current, err)
		}
		return BookingStep{
			Reply: d.parser.Reply(lang, parser.ReplyAskRoom, map[string]string{"rooms": d.roomMenu()}),
			Next:  next,
		}

	case domain.PhaseAwaitingRoomType:
		room, err := d.parser.ParseRoom(text)
		if err != nil {
			return d.reprompt(lang, current, parser.ReplyRoomNotUnderstood)
		}
		total, err := d.rates.Quote(room, current.Dates.Nights(), current.Guests)
		if err != nil {
			return d.reprompt(lang, current, parser.ReplyRoomNotUnderstood)
		}

		// Availability may have changed since the dates were accepted
		if step, ok := d.unavailable(ctx, lang, *current.Dates); !ok {
			return step
		}

		next, err := current.Confirming(room, total)
		if err != nil {
			return d.broken(lang, current, err)
		}
		return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyQuote, d.vars(lang, next)), Next: next}

	case domain.PhaseConfirming:
		if d.parser.IsAffirmative(text) {
			confirmed := *current
			return BookingStep{
				Reply:     d.parser.Reply(lang, parser.ReplyBookingConfirmed, d.vars(lang, current)),
				Confirmed: &confirmed,
			}
		}
		return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyBookingCancelled, nil)}
	}

	return d.broken(lang, current, fmt.Errorf("unknown booking phase %q", current.Phase))
}

// checkDates asks the oracle about accepted dates and opens the guest question
func (d *BookingDialogue) checkDates(ctx context.Context, lang string, dates domain.DateRange) BookingStep {
	if step, ok := d.unavailable(ctx, lang, dates); !ok {
		return step
	}
	next := domain.AwaitingGuests(dates)
	return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyAskGuests, d.vars(lang, next)), Next: next}
}

// unavailable returns ok=false with the terminal step when the stay cannot be
// offered. An unreachable oracle never counts as available.
func (d *BookingDialogue) unavailable(ctx context.Context, lang string, dates domain.DateRange) (BookingStep, bool) {
	booked, err := d.oracle.FullyBooked(ctx, dates)
	if err != nil {
		slog.Warn("Availability check failed, escalating",
			"error", err,
			"check_in", dates.CheckIn,
			"check_out", dates.CheckOut,
		)
		return BookingStep{
			Reply:    d.parser.Reply(lang, parser.ReplyAvailabilityUnknown, nil),
			Escalate: domain.ReasonAvailability,
		}, false
	}
	if booked {
		return BookingStep{
			Reply: d.parser.Reply(lang, parser.ReplyUnavailable, d.vars(lang, &domain.Booking{Dates: &dates})),
		}, false
	}
	return BookingStep{}, true
}

func (d *BookingDialogue) reprompt(lang string, current *domain.Booking, key string) BookingStep {
	return BookingStep{
		Reply: d.parser.Reply(lang, key, map[string]string{
			"max_guests": strconv.Itoa(d.parser.MaxGuests()),
			"rooms":      d.roomMenu(),
		}),
		Next: current,
	}
}

// broken clears a dialogue whose stored state cannot advance
func (d *BookingDialogue) broken(lang string, current *domain.Booking, err error) BookingStep {
	slog.Error("Booking state cannot advance, clearing",
		"error", err,
		"phase", current.Phase,
	)
	return BookingStep{Reply: d.parser.Reply(lang, parser.ReplyBookingCancelled, nil)}
}

func (d *BookingDialogue) roomMenu() string {
	items := make([]string, 0, len(domain.RoomTypes))
	for _, room := range domain.RoomTypes {
		rate, ok := d.rates[room]
		if !ok {
			continue
		}
		name := string(room)
		items = append(items, fmt.Sprintf("%s%s ($%d)", strings.ToUpper(name[:1]), name[1:], rate))
	}
	return strings.Join(items, ", ")
}

func (d *BookingDialogue) vars(lang string, b *domain.Booking) map[string]string {
	v := map[string]string{}
	if b.Dates != nil {
		v["check_in"] = d.parser.FormatDate(lang, b.Dates.CheckIn)
		v["check_out"] = d.parser.FormatDate(lang, b.Dates.CheckOut)
		v["nights"] = strconv.Itoa(b.Dates.Nights())
	}
	if b.Guests > 0 {
		v["guests"] = strconv.Itoa(b.Guests)
	}
	if b.Room != "" {
		v["room"] = string(b.Room)
	}
	if b.TotalCost > 0 {
		v["total"] = strconv.Itoa(b.TotalCost)
	}
	return v
}

// bookingSummary is the needs-attention payload of a confirmed booking
func bookingSummary(b *domain.Booking) map[string]any {
	summary := map[string]any{
		"guest_count": b.Guests,
		"room_type":   b.Room,
		"total_cost":  b.TotalCost,
	}
	if b.Dates != nil {
		summary["check_in"] = b.Dates.CheckIn.Format("2006-01-02")
		summary["check_out"] = b.Dates.CheckOut.Format("2006-01-02")
		summary["nights"] = b.Dates.Nights()
	}
	return summary
}
