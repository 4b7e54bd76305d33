// Package vendors holds the vendor directory: which surface strings identify
// a known vendor in free text, and which sender addresses to search for it.
//
// The directory is injected wherever vendor knowledge is needed (parser,
// engine) so nothing else hardcodes a vendor list, and it can be swapped
// live on config reload.
package vendors

import (
	"sort"
	"strings"
	"sync"
)

// Directory maps canonical vendor keys to surface aliases and default sender
// addresses. Safe for concurrent use; Reload swaps the whole content.
type Directory struct {
	mu      sync.RWMutex
	aliases map[string][]string
	emails  map[string][]string
	order   []string // stable iteration order over canonical keys
}

func New(aliases map[string][]string, emails map[string][]string) *Directory {
	d := &Directory{}
	d.Reload(aliases, emails)
	return d
}

// Default returns the built-in directory.
func Default() *Directory {
	return New(defaultAliases(), defaultEmails())
}

// Reload replaces the directory content. Empty maps fall back to the
// built-in defaults.
func (d *Directory) Reload(aliases map[string][]string, emails map[string][]string) {
	if len(aliases) == 0 {
		aliases = defaultAliases()
	}
	if len(emails) == 0 {
		emails = defaultEmails()
	}

	cpAliases := make(map[string][]string, len(aliases))
	order := make([]string, 0, len(aliases))
	for k, v := range aliases {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		cpAliases[key] = append([]string(nil), v...)
		order = append(order, key)
	}
	sort.Strings(order)

	cpEmails := make(map[string][]string, len(emails))
	for k, v := range emails {
		cpEmails[strings.ToLower(strings.TrimSpace(k))] = append([]string(nil), v...)
	}

	d.mu.Lock()
	d.aliases = cpAliases
	d.emails = cpEmails
	d.order = order
	d.mu.Unlock()
}

// Match scans normalized text for vendor aliases. A vendor is found when any
// of its aliases appears as a substring. Results are ordered by the position
// of the earliest alias match (ties broken by key order); duplicates are
// suppressed.
func (d *Directory) Match(text string) []string {
	norm := Normalize(text)

	d.mu.RLock()
	defer d.mu.RUnlock()

	type hit struct {
		key string
		pos int
	}
	var hits []hit
	for _, key := range d.order {
		best := -1
		for _, alias := range d.aliases[key] {
			a := Normalize(alias)
			if a == "" {
				continue
			}
			if i := strings.Index(norm, a); i >= 0 && (best < 0 || i < best) {
				best = i
			}
		}
		if best >= 0 {
			hits = append(hits, hit{key: key, pos: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.key)
	}
	return out
}

// Emails returns the default sender addresses for a vendor key, or nil when
// the vendor is unknown.
func (d *Directory) Emails(vendor string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v := d.emails[strings.ToLower(strings.TrimSpace(vendor))]
	if len(v) == 0 {
		return nil
	}
	return append([]string(nil), v...)
}

// Normalize lowercases and strips French accents so alias matching is
// insensitive to both case and diacritics.
func Normalize(s string) string {
	s = strings.ToLower(s)
	return accentReplacer.Replace(s)
}

var accentReplacer = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
	"œ", "oe",
)

func defaultAliases() map[string][]string {
	return map[string][]string{
		"distram":      {"distram", "facturation@distram.com"},
		"promocash":    {"promocash", "no-reply@promocash.com"},
		"metro":        {"metro", "factures@metro.fr"},
		"transgourmet": {"transgourmet"},
		"brake":        {"brake"},
		"davigel":      {"davigel"},
		"sysco":        {"sysco"},
		"pomona":       {"pomona"},
		"khadispal":    {"khadispal"},
		"orcun":        {"orcun"},
	}
}

func defaultEmails() map[string][]string {
	return map[string][]string{
		"distram":   {"facturation@distram.com"},
		"promocash": {"no-reply@promocash.com"},
		"metro":     {"factures@metro.fr"},
		"khadispal": {"khadispal"},
		"orcun":     {"orcun"},
	}
}
