package parser

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultPacks []byte

// Pack is the vocabulary of one supported language
type Pack struct {
	Code              string            `yaml:"code"`
	DateFormat        string            `yaml:"date_format"`
	Markers           []string          `yaml:"markers"`
	Months            map[string]int    `yaml:"months"`
	Connectors        []string          `yaml:"connectors"`
	Attachers         []string          `yaml:"attachers"`
	Fillers           []string          `yaml:"fillers"`
	BookingKeywords   []string          `yaml:"booking_keywords"`
	EscalationKeyword []string          `yaml:"escalation_keywords"`
	Affirmative       []string          `yaml:"affirmative"`
	Cancel            []string          `yaml:"cancel"`
	GuestWords        []string          `yaml:"guest_words"`
	NumberWords       map[string]int    `yaml:"number_words"`
	Rooms             map[string]string `yaml:"rooms"`
	ApologyMarkers    []string          `yaml:"apology_markers"`
	Replies           map[string]string `yaml:"replies"`
}

type packFile struct {
	Default   string `yaml:"default"`
	Languages []Pack `yaml:"languages"`
}

// Reply keys every pack must define
const (
	ReplyAskDates            = "ask_dates"
	ReplyDatesNotUnderstood  = "dates_not_understood"
	ReplyInvalidRange        = "invalid_range"
	ReplyUnavailable         = "unavailable"
	ReplyAvailabilityUnknown = "availability_unknown"
	ReplyAskGuests           = "ask_guests"
	ReplyGuestsNotUnderstood = "guests_not_understood"
	ReplyAskRoom             = "ask_room"
	ReplyRoomNotUnderstood   = "room_not_understood"
	ReplyQuote               = "quote"
	ReplyBookingConfirmed    = "booking_confirmed"
	ReplyBookingCancelled    = "booking_cancelled"
	ReplyEscalation          = "escalation"
	ReplyApology             = "apology"
)

var requiredReplies = []string{
	ReplyAskDates, ReplyDatesNotUnderstood, ReplyInvalidRange, ReplyUnavailable,
	ReplyAvailabilityUnknown, ReplyAskGuests, ReplyGuestsNotUnderstood, ReplyAskRoom,
	ReplyRoomNotUnderstood, ReplyQuote, ReplyBookingConfirmed, ReplyBookingCancelled,
	ReplyEscalation, ReplyApology,
}

// loadPacks decodes and validates a language pack document
func loadPacks(data []byte) ([]*Pack, string, error) {
	var f packFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("decode language packs: %w", err)
	}
	if len(f.Languages) == 0 {
		return nil, "", fmt.Errorf("language packs: no languages defined")
	}

	packs := make([]*Pack, 0, len(f.Languages))
	for i := range f.Languages {
		p := &f.Languages[i]
		if p.Code == "" {
			return nil, "", fmt.Errorf("language pack #%d: missing code", i)
		}
		for _, key := range requiredReplies {
			if p.Replies[key] == "" {
				return nil, "", fmt.Errorf("language pack %s: missing reply %q", p.Code, key)
			}
		}
		for word, m := range p.Months {
			if m < 1 || m > 12 {
				return nil, "", fmt.Errorf("language pack %s: month %q out of range", p.Code, word)
			}
		}
		if p.DateFormat == "" {
			p.DateFormat = "2006-01-02"
		}
		packs = append(packs, p)
	}

	def := f.Default
	if def == "" {
		def = packs[0].Code
	}
	return packs, def, nil
}

// Render fills {placeholders} of a reply template
func (p *Pack) Render(key string, vars map[string]string) string {
	tmpl := p.Replies[key]
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// normalize lowercases and strips diacritics so "Sí" and "si" match
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func wordSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, l := range lists {
		for _, w := range l {
			set[normalize(w)] = struct{}{}
		}
	}
	return set
}
