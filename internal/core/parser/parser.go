// Package parser turns free guest text into booking facts: date ranges, guest
// counts, room types, yes/no answers and escalation requests, in every
// configured language.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
)

var (
	// ErrNoDates: no date range could be recognized in the text
	ErrNoDates = errors.New("no date range found")
	// ErrInvalidRange: a range was found but check-out is not after check-in
	ErrInvalidRange = errors.New("check-out must be after check-in")
	// ErrInvalidGuests: no guest count in 1..max was found
	ErrInvalidGuests = errors.New("no valid guest count found")
	// ErrUnknownRoom: the text names no known room type
	ErrUnknownRoom = errors.New("unknown room type")
)

// DefaultMaxGuests bounds the accepted guest count
const DefaultMaxGuests = 10

var tokenRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d+(?:st|nd|rd|th|er|ro|do|vo)?|[a-z']+|[-–]`)

// Parser recognizes booking facts in any loaded language. It is safe for
// concurrent use; all state is read-only after New.
type Parser struct {
	packs     []*Pack
	byCode    map[string]*Pack
	def       *Pack
	now       func() time.Time
	loc       *time.Location
	maxGuests int
	raw       []byte

	months      map[string]time.Month
	connectors  map[string]struct{}
	attachers   map[string]struct{}
	fillers     map[string]struct{}
	booking     map[string]struct{}
	escalation  map[string]struct{}
	affirmative map[string]struct{}
	cancel      map[string]struct{}
	guestWords  map[string]struct{}
	numberWords map[string]int
	rooms       map[string]domain.RoomType
	vocab       map[string]map[string]struct{}
}

// Option configures a Parser
type Option func(*Parser)

// WithClock injects the time source used for year inference
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithLocation sets the hotel's timezone
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithMaxGuests overrides the accepted guest count upper bound
func WithMaxGuests(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxGuests = n
		}
	}
}

// WithPacks replaces the embedded language packs with a custom YAML document
func WithPacks(data []byte) Option {
	return func(p *Parser) { p.raw = data }
}

// New builds a parser from the embedded language packs
func New(opts ...Option) (*Parser, error) {
	p := &Parser{
		now:       time.Now,
		loc:       time.UTC,
		maxGuests: DefaultMaxGuests,
		raw:       defaultPacks,
	}
	for _, opt := range opts {
		opt(p)
	}

	packs, def, err := loadPacks(p.raw)
	if err != nil {
		return nil, err
	}
	p.packs = packs
	p.byCode = make(map[string]*Pack, len(packs))
	for _, pk := range packs {
		p.byCode[pk.Code] = pk
	}
	if p.def = p.byCode[def]; p.def == nil {
		return nil, fmt.Errorf("default language %q has no pack", def)
	}

	p.months = make(map[string]time.Month)
	p.numberWords = make(map[string]int)
	p.rooms = make(map[string]domain.RoomType)
	p.vocab = make(map[string]map[string]struct{}, len(packs))
	var connectors, attachers, fillers, booking, escalation, affirmative, cancel, guests [][]string
	for _, pk := range packs {
		vocab := wordSet(pk.Markers, pk.BookingKeywords, pk.EscalationKeyword, pk.Affirmative, pk.Cancel, pk.GuestWords)
		for w := range pk.Months {
			vocab[normalize(w)] = struct{}{}
		}
		p.vocab[pk.Code] = vocab

		for w, m := range pk.Months {
			p.months[normalize(w)] = time.Month(m)
		}
		for w, n := range pk.NumberWords {
			p.numberWords[normalize(w)] = n
		}
		for w, r := range pk.Rooms {
			p.rooms[normalize(w)] = domain.RoomType(r)
		}
		connectors = append(connectors, pk.Connectors)
		attachers = append(attachers, pk.Attachers)
		fillers = append(fillers, pk.Fillers)
		booking = append(booking, pk.BookingKeywords)
		escalation = append(escalation, pk.EscalationKeyword)
		affirmative = append(affirmative, pk.Affirmative)
		cancel = append(cancel, pk.Cancel)
		guests = append(guests, pk.GuestWords)
	}
	p.connectors = wordSet(connectors...)
	p.attachers = wordSet(attachers...)
	p.fillers = wordSet(fillers...)
	p.booking = wordSet(booking...)
	p.escalation = wordSet(escalation...)
	p.affirmative = wordSet(affirmative...)
	p.cancel = wordSet(cancel...)
	p.guestWords = wordSet(guests...)
	return p, nil
}

// MaxGuests returns the accepted guest count upper bound
func (p *Parser) MaxGuests() int { return p.maxGuests }

// Pack returns the pack for a language code, falling back to the default
func (p *Parser) Pack(code string) *Pack {
	if pk, ok := p.byCode[code]; ok {
		return pk
	}
	return p.def
}

// Languages lists the loaded language codes
func (p *Parser) Languages() []string {
	codes := make([]string, 0, len(p.packs))
	for _, pk := range p.packs {
		codes = append(codes, pk.Code)
	}
	return codes
}

func tokenize(text string) []string {
	return tokenRe.FindAllString(normalize(text), -1)
}

// number reads a numeric token, ignoring an ordinal suffix
func number(tok string) (int, bool) {
	digits := strings.TrimRightFunc(tok, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" || strings.Contains(digits, "-") {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

func contains(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// DetectLanguage scores each pack by the words it recognizes and returns the
// best match. Ties and unrecognized text go to the default language.
func (p *Parser) DetectLanguage(text string) string {
	if strings.ContainsAny(text, "¿¡ñÑ") {
		if _, ok := p.byCode["es"]; ok {
			return "es"
		}
	}
	tokens := tokenize(text)
	best, bestScore := p.def.Code, 0
	for _, pk := range p.packs {
		score := 0
		for _, t := range tokens {
			if _, ok := p.vocab[pk.Code][t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = pk.Code, score
		}
	}
	return best
}

// HasBookingIntent reports whether the text asks to book a room
func (p *Parser) HasBookingIntent(text string) bool {
	return contains(p.booking, tokenize(text))
}

// WantsHuman reports whether the text asks for a human operator
func (p *Parser) WantsHuman(text string) bool {
	return contains(p.escalation, tokenize(text))
}

// IsCancel reports whether the text abandons the current dialogue
func (p *Parser) IsCancel(text string) bool {
	return contains(p.cancel, tokenize(text))
}

// IsAffirmative reports whether the text accepts a quote. Any cancel word wins.
func (p *Parser) IsAffirmative(text string) bool {
	tokens := tokenize(text)
	return contains(p.affirmative, tokens) && !contains(p.cancel, tokens)
}

// ParseGuests extracts a guest count in 1..MaxGuests. Digits win over number
// words; among number words, one followed by a guest word ("two people") wins,
// so "one room for two guests" reads as two.
func (p *Parser) ParseGuests(text string) (int, error) {
	tokens := tokenize(text)
	n, found := 0, false
	for _, t := range tokens {
		if v, ok := number(t); ok {
			n, found = v, true
			break
		}
	}
	if !found {
		for i, t := range tokens {
			v, ok := p.numberWords[t]
			if !ok {
				continue
			}
			if !found {
				n, found = v, true
			}
			if i+1 < len(tokens) {
				if _, guest := p.guestWords[tokens[i+1]]; guest {
					n = v
					break
				}
			}
		}
	}
	if !found {
		return 0, ErrInvalidGuests
	}
	if n < 1 || n > p.maxGuests {
		return 0, fmt.Errorf("%w: %d is outside 1..%d", ErrInvalidGuests, n, p.maxGuests)
	}
	return n, nil
}

// ParseRoom extracts a room type from the text
func (p *Parser) ParseRoom(text string) (domain.RoomType, error) {
	for _, t := range tokenize(text) {
		if r, ok := p.rooms[t]; ok {
			return r, nil
		}
	}
	return "", ErrUnknownRoom
}

// IsApology reports whether an automated reply admits it cannot help
func (p *Parser) IsApology(reply string) bool {
	lower := normalize(reply)
	for _, pk := range p.packs {
		for _, m := range pk.ApologyMarkers {
			if strings.Contains(lower, normalize(m)) {
				return true
			}
		}
	}
	return false
}

// FormatDate renders a date in the language's display format
func (p *Parser) FormatDate(lang string, t time.Time) string {
	return t.Format(p.Pack(lang).DateFormat)
}

// Reply renders a reply template in the given language
func (p *Parser) Reply(lang, key string, vars map[string]string) string {
	return p.Pack(lang).Render(key, vars)
}
