package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"hotel-concierge/internal/core/domain"
)

var isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

// datePart is one side of a range; month is zero when the text gave only a day
type datePart struct {
	day   int
	month time.Month
}

// ParseRange extracts a check-in/check-out range from free text.
//
// Recognized shapes, in any loaded language:
//
//	March 10 to March 15      10 March - 15 March
//	March 10 to 15            10-15 de marzo
//	from the 10th to the 15th of March
//	del 10 al 15 de marzo     2026-03-10 to 2026-03-15
//
// At least one side must name a month. Years are inferred: check-in falls in
// the current year unless that date has already passed, and check-out rolls
// into the next year when its month precedes check-in's.
func (p *Parser) ParseRange(text string) (domain.DateRange, error) {
	if r, ok, err := p.parseISO(text); ok || err != nil {
		return r, err
	}

	tokens := tokenize(text)
	for i := range tokens {
		first, next, ok := p.parseDate(tokens, i)
		if !ok || next >= len(tokens) {
			continue
		}
		if _, conn := p.connectors[tokens[next]]; !conn {
			continue
		}
		second, _, ok := p.parseDate(tokens, next+1)
		if !ok || (first.month == 0 && second.month == 0) {
			continue
		}
		if first.month == 0 {
			first.month = second.month
		}
		if second.month == 0 {
			second.month = first.month
		}
		return p.resolve(first, second)
	}
	return domain.DateRange{}, ErrNoDates
}

// parseDate reads `NUM [of|de] MONTH`, `MONTH NUM` or a bare `NUM` at i,
// skipping one leading filler word ("the", "el").
func (p *Parser) parseDate(tokens []string, i int) (datePart, int, bool) {
	if i < len(tokens) {
		if _, filler := p.fillers[tokens[i]]; filler {
			i++
		}
	}
	if i >= len(tokens) {
		return datePart{}, i, false
	}

	if m, ok := p.months[tokens[i]]; ok {
		j := i + 1
		if j < len(tokens) {
			if _, filler := p.fillers[tokens[j]]; filler {
				j++
			}
		}
		if j < len(tokens) {
			if d, ok := number(tokens[j]); ok && validDay(d) {
				return datePart{day: d, month: m}, j + 1, true
			}
		}
		return datePart{}, i, false
	}

	d, ok := number(tokens[i])
	if !ok || !validDay(d) {
		return datePart{}, i, false
	}
	j := i + 1
	if j < len(tokens) {
		if _, att := p.attachers[tokens[j]]; att && j+1 < len(tokens) {
			if m, ok := p.months[tokens[j+1]]; ok {
				return datePart{day: d, month: m}, j + 2, true
			}
		}
		if m, ok := p.months[tokens[j]]; ok {
			return datePart{day: d, month: m}, j + 1, true
		}
	}
	return datePart{day: d}, j, true
}

func validDay(d int) bool { return d >= 1 && d <= 31 }

func (p *Parser) today() time.Time {
	now := p.now().In(p.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)
}

// resolve applies year inference and validates the calendar dates
func (p *Parser) resolve(in, out datePart) (domain.DateRange, error) {
	today := p.today()

	year := today.Year()
	checkIn, ok := p.date(year, in)
	if !ok {
		return domain.DateRange{}, fmt.Errorf("%w: %s %d is not a calendar date", ErrNoDates, in.month, in.day)
	}
	if checkIn.Before(today) {
		year++
		if checkIn, ok = p.date(year, in); !ok {
			return domain.DateRange{}, fmt.Errorf("%w: %s %d is not a calendar date", ErrNoDates, in.month, in.day)
		}
	}

	outYear := year
	if out.month < in.month {
		outYear++
	}
	checkOut, ok := p.date(outYear, out)
	if !ok {
		return domain.DateRange{}, fmt.Errorf("%w: %s %d is not a calendar date", ErrNoDates, out.month, out.day)
	}
	return validRange(checkIn, checkOut)
}

// date builds midnight of a day, rejecting overflow such as February 30
func (p *Parser) date(year int, d datePart) (time.Time, bool) {
	t := time.Date(year, d.month, d.day, 0, 0, 0, 0, p.loc)
	return t, t.Day() == d.day && t.Month() == d.month
}

// parseISO handles two explicit YYYY-MM-DD dates; no year inference applies
func (p *Parser) parseISO(text string) (domain.DateRange, bool, error) {
	m := isoDateRe.FindAllStringSubmatch(text, 2)
	if len(m) < 2 {
		return domain.DateRange{}, false, nil
	}
	var dates [2]time.Time
	for i, sub := range m {
		y, _ := strconv.Atoi(sub[1])
		mo, _ := strconv.Atoi(sub[2])
		d, _ := strconv.Atoi(sub[3])
		t, ok := p.date(y, datePart{day: d, month: time.Month(mo)})
		if !ok || mo < 1 || mo > 12 {
			return domain.DateRange{}, false, fmt.Errorf("%w: %s is not a calendar date", ErrNoDates, sub[0])
		}
		dates[i] = t
	}
	r, err := validRange(dates[0], dates[1])
	return r, true, err
}

func validRange(checkIn, checkOut time.Time) (domain.DateRange, error) {
	if !checkOut.After(checkIn) {
		return domain.DateRange{}, fmt.Errorf("%w: %s to %s", ErrInvalidRange,
			checkIn.Format(time.DateOnly), checkOut.Format(time.DateOnly))
	}
	return domain.DateRange{CheckIn: checkIn, CheckOut: checkOut}, nil
}
