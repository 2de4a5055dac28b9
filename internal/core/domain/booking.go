package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookingPhase is a step of the booking dialogue. Phases only advance in
// declaration order; a cleared dialogue has no Booking at all.
type BookingPhase string

const (
	PhaseAwaitingDates    BookingPhase = "awaiting_dates"
	PhaseAwaitingGuests   BookingPhase = "awaiting_guests"
	PhaseAwaitingRoomType BookingPhase = "awaiting_room_type"
	PhaseConfirming       BookingPhase = "confirming"
)

var phaseOrder = map[BookingPhase]int{
	PhaseAwaitingDates:    1,
	PhaseAwaitingGuests:   2,
	PhaseAwaitingRoomType: 3,
	PhaseConfirming:       4,
}

// Rank orders phases; 0 means "no dialogue"
func (p BookingPhase) Rank() int {
	return phaseOrder[p]
}

// RoomType is one of the fixed bookable room categories
type RoomType string

const (
	RoomStandard RoomType = "standard"
	RoomDeluxe   RoomType = "deluxe"
	RoomSuite    RoomType = "suite"
)

// RoomTypes lists room types in display order
var RoomTypes = []RoomType{RoomStandard, RoomDeluxe, RoomSuite}

// DateRange is a stay from check-in (inclusive) to check-out (exclusive), both at midnight
type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// Nights returns the number of nights in the stay
func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours()+12) / 24
}

// Days returns the midnight of every night in the stay
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.CheckIn; d.Before(r.CheckOut); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Booking is the booking dialogue's working memory. Each phase only carries
// the fields collected before it; constructors below enforce that.
type Booking struct {
	Phase     BookingPhase `json:"phase"`
	Dates     *DateRange   `json:"dates,omitempty"`
	Guests    int          `json:"guest_count,omitempty"`
	Room      RoomType     `json:"room_type,omitempty"`
	TotalCost int          `json:"total_cost,omitempty"`
}

// AwaitingDates starts a dialogue that still needs a date range
func AwaitingDates() *Booking {
	return &Booking{Phase: PhaseAwaitingDates}
}

// AwaitingGuests records the validated stay and asks for the guest count
func AwaitingGuests(dates DateRange) *Booking {
	return &Booking{Phase: PhaseAwaitingGuests, Dates: &dates}
}

// AwaitingRoomType records the guest count
func (b *Booking) AwaitingRoomType(guests int) (*Booking, error) {
	if b.Phase != PhaseAwaitingGuests || b.Dates == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Phase, PhaseAwaitingRoomType)
	}
	return &Booking{Phase: PhaseAwaitingRoomType, Dates: b.Dates, Guests: guests}, nil
}

// Confirming records the room choice and the quoted total
func (b *Booking) Confirming(room RoomType, total int) (*Booking, error) {
	if b.Phase != PhaseAwaitingRoomType || b.Dates == nil || b.Guests <= 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Phase, PhaseConfirming)
	}
	return &Booking{Phase: PhaseConfirming, Dates: b.Dates, Guests: b.Guests, Room: room, TotalCost: total}, nil
}

// Valid checks that the fields match the phase
func (b *Booking) Valid() bool {
	switch b.Phase {
	case PhaseAwaitingDates:
		return b.Dates == nil && b.Guests == 0 && b.Room == ""
	case PhaseAwaitingGuests:
		return b.Dates != nil && b.Guests == 0 && b.Room == ""
	case PhaseAwaitingRoomType:
		return b.Dates != nil && b.Guests > 0 && b.Room == ""
	case PhaseConfirming:
		return b.Dates != nil && b.Guests > 0 && b.Room != "" && b.TotalCost > 0
	}
	return false
}

// MarshalBooking encodes a booking for the booking_state column; nil encodes as NULL
func MarshalBooking(b *Booking) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// UnmarshalBooking decodes the booking_state column. Rows whose fields do not
// match their phase are discarded rather than resumed half-way.
func UnmarshalBooking(raw []byte) (*Booking, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var b Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode booking state: %w", err)
	}
	if !b.Valid() {
		return nil, nil
	}
	return &b, nil
}
