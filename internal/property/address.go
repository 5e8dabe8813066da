// Package property resolves free-form addresses to canonical research properties.
package property

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidAddress is returned when an address cannot be parsed into a
// street, city, and state.
var ErrInvalidAddress = eris.New("property: invalid address")

// Address is a parsed, normalized US street address.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip,omitempty"`
}

// String renders the canonical one-line form, e.g.
// "123 N Main St Apt 4, Springfield, IL 62701".
func (a Address) String() string {
	s := a.Street + ", " + a.City + ", " + a.State
	if a.Zip != "" {
		s += " " + a.Zip
	}
	return s
}

// StableKey identifies the property independent of formatting. The zip code
// is excluded so requests with and without it converge on one property.
func (a Address) StableKey() string {
	h := sha256.Sum256([]byte(strings.ToLower(a.Street + "|" + a.City + "|" + a.State)))
	return hex.EncodeToString(h[:])
}

// abbrToState maps lowercase state abbreviations to lowercase full names.
var abbrToState = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
}

var stateToAbbr = func() map[string]string {
	m := make(map[string]string, len(abbrToState))
	for abbr, full := range abbrToState {
		m[full] = abbr
	}
	return m
}()

// streetSuffixes maps spelled-out street words to USPS abbreviations.
var streetSuffixes = map[string]string{
	"street": "st", "avenue": "ave", "av": "ave", "road": "rd", "drive": "dr",
	"boulevard": "blvd", "lane": "ln", "court": "ct", "place": "pl",
	"terrace": "ter", "parkway": "pkwy", "highway": "hwy", "circle": "cir",
	"trail": "trl", "square": "sq", "way": "way", "apartment": "apt",
	"suite": "ste", "building": "bldg", "floor": "fl",
}

var directionals = map[string]string{
	"north": "N", "south": "S", "east": "E", "west": "W",
	"northeast": "NE", "northwest": "NW", "southeast": "SE", "southwest": "SW",
	"n": "N", "s": "S", "e": "E", "w": "W", "ne": "NE", "nw": "NW", "se": "SE", "sw": "SW",
}

var (
	zipPattern    = regexp.MustCompile(`^(\d{5})(-\d{4})?$`)
	spacePattern  = regexp.MustCompile(`\s+`)
	unitPrefixRe  = regexp.MustCompile(`^(?i)(apt|apartment|unit|suite|ste|#)`)
	houseNumberRe = regexp.MustCompile(`^\d+[a-zA-Z]?(-\d+)?\b`)
)

// ParseAddress parses and normalizes a one-line US address such as
// "123 north main street, springfield, illinois 62701".
func ParseAddress(raw string) (Address, error) {
	clean := strings.TrimSpace(spacePattern.ReplaceAllString(raw, " "))
	clean = strings.Trim(clean, " ,.;")
	if clean == "" {
		return Address{}, eris.Wrap(ErrInvalidAddress, "empty address")
	}

	var parts []string
	for _, p := range strings.Split(clean, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Address{}, eris.Wrapf(ErrInvalidAddress, "%q: expected street, city, state", raw)
	}

	street := parts[0]
	rest := parts[1:]
	// "123 Main St, Apt 4, Springfield, IL" keeps the unit with the street.
	if len(rest) > 2 && unitPrefixRe.MatchString(rest[0]) {
		street += " " + rest[0]
		rest = rest[1:]
	}

	var city, stateZip string
	switch len(rest) {
	case 1:
		city, stateZip = splitCityStateZip(rest[0])
	default:
		city = strings.Join(rest[:len(rest)-1], " ")
		stateZip = rest[len(rest)-1]
	}

	state, zip := parseStateZip(stateZip)
	if state == "" {
		return Address{}, eris.Wrapf(ErrInvalidAddress, "%q: unrecognized state", raw)
	}
	if city == "" {
		return Address{}, eris.Wrapf(ErrInvalidAddress, "%q: missing city", raw)
	}
	if !houseNumberRe.MatchString(street) {
		return Address{}, eris.Wrapf(ErrInvalidAddress, "%q: street must start with a house number", raw)
	}

	return Address{
		Street: normalizeStreet(street),
		City:   cases.Title(language.English).String(strings.ToLower(city)),
		State:  state,
		Zip:    zip,
	}, nil
}

// splitCityStateZip splits "Springfield IL 62701" when the city, state, and
// zip share one comma-separated segment.
func splitCityStateZip(s string) (city, stateZip string) {
	tokens := strings.Fields(s)
	end := len(tokens)
	if end > 0 && zipPattern.MatchString(tokens[end-1]) {
		end--
	}
	// State names span up to three words ("district of columbia").
	for n := 3; n >= 1; n-- {
		if end-n < 1 {
			continue
		}
		if lookupState(strings.Join(tokens[end-n:end], " ")) != "" {
			return strings.Join(tokens[:end-n], " "), strings.Join(tokens[end-n:], " ")
		}
	}
	return "", s
}

func parseStateZip(s string) (state, zip string) {
	tokens := strings.Fields(s)
	if n := len(tokens); n > 0 {
		if m := zipPattern.FindStringSubmatch(tokens[n-1]); m != nil {
			zip = m[1]
			tokens = tokens[:n-1]
		}
	}
	return lookupState(strings.Join(tokens, " ")), zip
}

// lookupState returns the upper-case abbreviation for an abbreviation or full
// state name, or "" when unknown.
func lookupState(s string) string {
	lower := strings.ToLower(strings.Trim(strings.TrimSpace(s), "."))
	if _, ok := abbrToState[lower]; ok {
		return strings.ToUpper(lower)
	}
	if abbr, ok := stateToAbbr[lower]; ok {
		return strings.ToUpper(abbr)
	}
	return ""
}

func normalizeStreet(street string) string {
	title := cases.Title(language.English)
	tokens := strings.Fields(strings.NewReplacer(".", "", ",", " ").Replace(street))
	out := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		switch {
		case lower[0] >= '0' && lower[0] <= '9', lower[0] == '#':
			out = append(out, strings.ToUpper(lower))
		case directionals[lower] != "" && (i == 1 || i == len(tokens)-1):
			out = append(out, directionals[lower])
		case streetSuffixes[lower] != "":
			out = append(out, title.String(streetSuffixes[lower]))
		default:
			out = append(out, title.String(lower))
		}
	}
	return strings.Join(out, " ")
}
