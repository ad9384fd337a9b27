package domain

import (
	"sort"
	"strings"
	"time"

	"shelfmarket-backend/internal/errs"
)

type RentalUnit struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Size           string    `json:"size"`
	Site           string    `json:"site"`
	ListPriceCents int64     `json:"list_price_cents"`
	CreatedOn      time.Time `json:"created_on"`
	UpdatedOn      time.Time `json:"updated_on"`
}

// Canonical unit types and the spellings vendors and staff use for them.
const (
	UnitTypeShelf       = "regal"
	UnitTypeCooled      = "kuehlregal"
	UnitTypeFrozen      = "tiefkuehl"
	UnitTypeDisplayCase = "vitrine"
)

var unitTypeAliases = map[string][]string{
	UnitTypeShelf:       {"shelf", "standard", "standardregal"},
	UnitTypeCooled:      {"kuehl", "gekuehlt", "kuehlschrank", "cooled"},
	UnitTypeFrozen:      {"tiefkuehlregal", "tiefgekuehlt", "freezer", "frozen"},
	UnitTypeDisplayCase: {"display", "glasvitrine", "schaufenster"},
}

var unitTypeIndex = buildUnitTypeIndex()

func buildUnitTypeIndex() map[string]string {
	idx := make(map[string]string)
	for canonical, aliases := range unitTypeAliases {
		idx[canonical] = canonical
		for _, a := range aliases {
			idx[a] = canonical
		}
	}
	return idx
}

var umlautReplacer = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")

func normalizeTypeTag(tag string) string {
	return umlautReplacer.Replace(strings.ToLower(strings.TrimSpace(tag)))
}

// CanonicalUnitType resolves a type tag or alias, ignoring case and umlaut spelling.
func CanonicalUnitType(tag string) (string, bool) {
	c, ok := unitTypeIndex[normalizeTypeTag(tag)]
	return c, ok
}

// CanonicalUnitTypes resolves and de-duplicates a set of type tags.
func CanonicalUnitTypes(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, errs.Invalid("at least one unit type is required")
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		c, ok := CanonicalUnitType(tag)
		if !ok {
			return nil, errs.Invalid("unknown unit type %q", tag)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

func KnownUnitTypes() []string {
	out := make([]string, 0, len(unitTypeAliases))
	for c := range unitTypeAliases {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Normalize validates the unit and rewrites its type to the canonical tag.
func (u *RentalUnit) Normalize() error {
	if strings.TrimSpace(u.Name) == "" {
		return errs.Invalid("unit name is required")
	}
	if strings.TrimSpace(u.Site) == "" {
		return errs.Invalid("unit site is required")
	}
	if u.ListPriceCents < 0 {
		return errs.Invalid("list price must not be negative")
	}
	c, ok := CanonicalUnitType(u.Type)
	if !ok {
		return errs.Invalid("unknown unit type %q", u.Type)
	}
	u.Type = c
	return nil
}
