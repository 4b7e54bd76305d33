// Package parser turns natural-language requests (French, with some English
// day names) into automation configs. Parsing is pure and deterministic:
// same text and vendor directory in, same config out.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invomat/internal/automation"
	"invomat/internal/vendors"
)

// Parser extracts automation configs from free text. The vendor directory is
// injected so the alias table can be reloaded without touching the parser.
type Parser struct {
	dir *vendors.Directory
	now func() time.Time
}

func New(dir *vendors.Directory) *Parser {
	if dir == nil {
		dir = vendors.Default()
	}
	return &Parser{dir: dir, now: time.Now}
}

// intentPatterns gate parsing: text must look like an automation request, not
// just mention a recurrence. Matched against the lowercased text.
var intentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(crée|créer|créez|fais|faire|met|mets|mettre)\s*(en place)?\s*(une?|l[ea])?\s*automatisation`),
	regexp.MustCompile(`automatise`),
	regexp.MustCompile(`chaque\s+(semaine|jour|mois|lundi|mardi|mercredi|jeudi|vendredi)`),
	regexp.MustCompile(`tous\s+les\s+(jours|semaines|mois|lundis?|mardis?)`),
	regexp.MustCompile(`récupère.*automatiquement`),
	regexp.MustCompile(`surveille.*et.*(alerte|notifie)`),
	regexp.MustCompile(`(envoie|envoi).*rapport.*chaque`),
	regexp.MustCompile(`met.*dans.*tableau.*chaque`),
}

var (
	hourRe      = regexp.MustCompile(`[àa]\s*(\d{1,2})\s*h`)
	alertRe     = regexp.MustCompile(`(alerte|notifie|préviens)`)
	thresholdRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*€`)
	tableNameRe = regexp.MustCompile(`tableau\s+['"]?([^'"]+)['"]?`)
)

// dayNames maps day-name substrings to 0=Monday .. 6=Sunday. Order matters:
// the first name found in the text wins.
var dayNames = []struct {
	name string
	dow  int
}{
	{"lundi", 0}, {"mardi", 1}, {"mercredi", 2}, {"jeudi", 3},
	{"vendredi", 4}, {"samedi", 5}, {"dimanche", 6},
	{"monday", 0}, {"tuesday", 1}, {"wednesday", 2}, {"thursday", 3},
	{"friday", 4}, {"saturday", 5}, {"sunday", 6},
}

var frequencyPatterns = []struct {
	freq     automation.Frequency
	patterns []*regexp.Regexp
}{
	{automation.FreqDaily, []*regexp.Regexp{
		regexp.MustCompile(`chaque\s+jour`),
		regexp.MustCompile(`tous\s+les\s+jours`),
		regexp.MustCompile(`quotidien`),
	}},
	{automation.FreqWeekly, []*regexp.Regexp{
		regexp.MustCompile(`chaque\s+semaine`),
		regexp.MustCompile(`toutes?\s+les\s+semaines?`),
		regexp.MustCompile(`hebdomadaire`),
	}},
	{automation.FreqMonthly, []*regexp.Regexp{
		regexp.MustCompile(`chaque\s+mois`),
		regexp.MustCompile(`tous\s+les\s+mois`),
		regexp.MustCompile(`mensuel`),
	}},
}

// Parse returns nil when the text carries no automation intent. It never
// errors: missing pieces fall back to defaults (weekly, Monday, 9:00) and an
// empty vendor list is left for the caller to judge.
func (p *Parser) Parse(text string) *automation.Config {
	lower := strings.ToLower(text)
	if !hasIntent(lower) {
		return nil
	}

	vnd := p.dir.Match(text)
	freq, dow := extractFrequency(lower)
	hour := extractHour(lower)

	trigger := automation.Trigger{
		Kind:      automation.TriggerSchedule,
		Cron:      buildCron(freq, dow, hour),
		Frequency: freq,
		DayOfWeek: dow,
		Hour:      hour,
		Minute:    0,
	}

	actions := []automation.Action{
		{Type: automation.ActionSearchInvoices, Vendors: vnd},
		{Type: automation.ActionExtractAmounts},
		{Type: automation.ActionUpdateTable},
	}
	if alertRe.MatchString(lower) {
		actions = append(actions, automation.Action{
			Type:           automation.ActionSendAlert,
			AlertThreshold: extractThreshold(text),
		})
	}

	return &automation.Config{
		Name:        automationName(vnd),
		Description: truncate(text, 200),
		TableName:   p.tableName(lower, vnd),
		Trigger:     trigger,
		Actions:     actions,
		Vendors:     vnd,
	}
}

func hasIntent(lower string) bool {
	for _, re := range intentPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// extractFrequency: an explicit day name takes precedence over generic
// frequency words, which take precedence over the weekly-Monday default.
func extractFrequency(lower string) (automation.Frequency, *int) {
	for _, d := range dayNames {
		if strings.Contains(lower, d.name) {
			dow := d.dow
			return automation.FreqWeekly, &dow
		}
	}
	for _, fp := range frequencyPatterns {
		for _, re := range fp.patterns {
			if re.MatchString(lower) {
				return fp.freq, nil
			}
		}
	}
	monday := 0
	return automation.FreqWeekly, &monday
}

func extractHour(lower string) int {
	if m := hourRe.FindStringSubmatch(lower); m != nil {
		if h, err := strconv.Atoi(m[1]); err == nil {
			return h
		}
	}
	if strings.Contains(lower, "matin") {
		return 9
	}
	if strings.Contains(lower, "soir") {
		return 18
	}
	return 9
}

func extractThreshold(text string) *float64 {
	m := thresholdRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

// buildCron derives a 5-field expression. The dow field uses 0=Monday.
func buildCron(freq automation.Frequency, dow *int, hour int) string {
	switch freq {
	case automation.FreqDaily:
		return fmt.Sprintf("0 %d * * *", hour)
	case automation.FreqWeekly:
		d := 0
		if dow != nil {
			d = *dow
		}
		return fmt.Sprintf("0 %d * * %d", hour, d)
	case automation.FreqMonthly:
		return fmt.Sprintf("0 %d 1 * *", hour)
	default:
		return fmt.Sprintf("0 %d * * 0", hour)
	}
}

func automationName(vnd []string) string {
	switch {
	case len(vnd) == 1:
		return "Suivi factures " + titleCase(vnd[0])
	case len(vnd) >= 2 && len(vnd) <= 3:
		return "Suivi " + joinTitled(vnd)
	case len(vnd) > 3:
		return "Suivi factures fournisseurs"
	default:
		return "Suivi automatique"
	}
}

// tableName honors an explicit `tableau "name"` in the request, else derives
// from the vendor list and current year.
func (p *Parser) tableName(lower string, vnd []string) string {
	if m := tableNameRe.FindStringSubmatch(lower); m != nil {
		return titleCase(strings.TrimSpace(m[1]))
	}
	year := p.now().Year()
	switch {
	case len(vnd) == 1:
		return fmt.Sprintf("Factures %s %d", titleCase(vnd[0]), year)
	case len(vnd) >= 2 && len(vnd) <= 3:
		return fmt.Sprintf("Factures %s %d", joinTitled(vnd), year)
	case len(vnd) > 3:
		return fmt.Sprintf("Factures Fournisseurs %d", year)
	default:
		return fmt.Sprintf("Factures %d", year)
	}
}

// DescribeTrigger renders a French one-liner ("Chaque lundi à 9h") for
// summaries and confirmations.
func DescribeTrigger(t automation.Trigger) string {
	label := "Régulièrement"
	switch t.Frequency {
	case automation.FreqDaily:
		label = "Chaque jour"
	case automation.FreqWeekly:
		label = "Chaque semaine"
	case automation.FreqMonthly:
		label = "Chaque mois"
	}
	if t.DayOfWeek != nil && *t.DayOfWeek >= 0 && *t.DayOfWeek <= 6 {
		days := []string{"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche"}
		label = "Chaque " + days[*t.DayOfWeek]
	}
	return fmt.Sprintf("%s à %dh", label, t.Hour)
}

func joinTitled(vnd []string) string {
	parts := make([]string, len(vnd))
	for i, v := range vnd {
		parts[i] = titleCase(v)
	}
	return strings.Join(parts, ", ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
