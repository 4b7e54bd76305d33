package parser

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"invomat/internal/automation"
)

func newTestParser() *Parser {
	p := New(nil)
	p.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestParseNoIntent(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	tests := []string{
		"rappelle-moi d'appeler Jean demain",
		"quelles sont mes factures distram ?",
		"bonjour",
		"",
	}
	for _, text := range tests {
		if got := p.Parse(text); got != nil {
			t.Fatalf("Parse(%q) = %+v, want nil", text, got)
		}
	}
}

func TestParseSchedules(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	tests := []struct {
		name    string
		text    string
		freq    automation.Frequency
		dow     *int
		hour    int
		cron    string
		vendors []string
	}{
		{
			name:    "weekly monday with hour",
			text:    "Chaque lundi à 9h récupère les factures de Distram",
			freq:    automation.FreqWeekly,
			dow:     intp(0),
			hour:    9,
			cron:    "0 9 * * 0",
			vendors: []string{"distram"},
		},
		{
			name:    "weekly thursday afternoon",
			text:    "Crée une automatisation qui récupère les factures Promocash chaque jeudi à 14h",
			freq:    automation.FreqWeekly,
			dow:     intp(3),
			hour:    14,
			cron:    "0 14 * * 3",
			vendors: []string{"promocash"},
		},
		{
			name:    "monthly default hour",
			text:    "Automatise le suivi des factures Metro tous les mois",
			freq:    automation.FreqMonthly,
			hour:    9,
			cron:    "0 9 1 * *",
			vendors: []string{"metro"},
		},
		{
			name:    "daily evening",
			text:    "Chaque jour le soir, mets les factures Sysco dans un tableau",
			freq:    automation.FreqDaily,
			hour:    18,
			cron:    "0 18 * * *",
			vendors: []string{"sysco"},
		},
		{
			name: "weekly default monday",
			text: "Récupère chaque semaine les factures de distram et promocash",
			freq: automation.FreqWeekly,
			hour: 9,
			cron: "0 9 * * 0",
			// discovery order follows first alias position in the text
			vendors: []string{"distram", "promocash"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := p.Parse(tt.text)
			if cfg == nil {
				t.Fatalf("Parse(%q) = nil", tt.text)
			}
			if cfg.Trigger.Kind != automation.TriggerSchedule {
				t.Fatalf("Kind = %s, want schedule", cfg.Trigger.Kind)
			}
			if cfg.Trigger.Frequency != tt.freq {
				t.Fatalf("Frequency = %s, want %s", cfg.Trigger.Frequency, tt.freq)
			}
			if tt.dow != nil {
				if cfg.Trigger.DayOfWeek == nil || *cfg.Trigger.DayOfWeek != *tt.dow {
					t.Fatalf("DayOfWeek = %v, want %d", cfg.Trigger.DayOfWeek, *tt.dow)
				}
			}
			if cfg.Trigger.Hour != tt.hour {
				t.Fatalf("Hour = %d, want %d", cfg.Trigger.Hour, tt.hour)
			}
			if cfg.Trigger.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", cfg.Trigger.Cron, tt.cron)
			}
			if !reflect.DeepEqual(cfg.Vendors, tt.vendors) {
				t.Fatalf("Vendors = %v, want %v", cfg.Vendors, tt.vendors)
			}
		})
	}
}

func TestParseActionOrder(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	cfg := p.Parse("Chaque lundi récupère les factures Distram et alerte moi si plus de 500 €")
	if cfg == nil {
		t.Fatal("Parse returned nil")
	}
	want := []automation.ActionType{
		automation.ActionSearchInvoices,
		automation.ActionExtractAmounts,
		automation.ActionUpdateTable,
		automation.ActionSendAlert,
	}
	if len(cfg.Actions) != len(want) {
		t.Fatalf("got %d actions, want %d", len(cfg.Actions), len(want))
	}
	for i, typ := range want {
		if cfg.Actions[i].Type != typ {
			t.Fatalf("action[%d] = %s, want %s", i, cfg.Actions[i].Type, typ)
		}
	}
	alert := cfg.Actions[3]
	if alert.AlertThreshold == nil || *alert.AlertThreshold != 500 {
		t.Fatalf("AlertThreshold = %v, want 500", alert.AlertThreshold)
	}
}

func TestParseAlertWithoutThreshold(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	cfg := p.Parse("Surveille les factures Metro chaque semaine et notifie moi")
	if cfg == nil {
		t.Fatal("Parse returned nil")
	}
	last := cfg.Actions[len(cfg.Actions)-1]
	if last.Type != automation.ActionSendAlert {
		t.Fatalf("last action = %s, want send_alert", last.Type)
	}
	if last.AlertThreshold != nil {
		t.Fatalf("AlertThreshold = %v, want nil", *last.AlertThreshold)
	}
}

func TestParseDecimalThreshold(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	cfg := p.Parse("Chaque lundi récupère les factures Distram et alerte moi au delà de 1250,50 €")
	if cfg == nil {
		t.Fatal("Parse returned nil")
	}
	last := cfg.Actions[len(cfg.Actions)-1]
	if last.AlertThreshold == nil || *last.AlertThreshold != 1250.50 {
		t.Fatalf("AlertThreshold = %v, want 1250.50", last.AlertThreshold)
	}
}

func TestNamesAndTable(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	tests := []struct {
		text      string
		wantName  string
		wantTable string
	}{
		{
			text:      "Chaque lundi récupère les factures de Distram",
			wantName:  "Suivi factures Distram",
			wantTable: "Factures Distram 2025",
		},
		{
			text:      "Chaque semaine récupère les factures distram, promocash et metro",
			wantName:  "Suivi Distram, Promocash, Metro",
			wantTable: "Factures Distram, Promocash, Metro 2025",
		},
		{
			text:      "Chaque semaine récupère mes factures",
			wantName:  "Suivi automatique",
			wantTable: "Factures 2025",
		},
	}
	for _, tt := range tests {
		cfg := p.Parse(tt.text)
		if cfg == nil {
			t.Fatalf("Parse(%q) = nil", tt.text)
		}
		if cfg.Name != tt.wantName {
			t.Fatalf("Name = %q, want %q", cfg.Name, tt.wantName)
		}
		if cfg.TableName != tt.wantTable {
			t.Fatalf("TableName = %q, want %q", cfg.TableName, tt.wantTable)
		}
	}
}

func TestExplicitTableName(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	cfg := p.Parse(`Chaque lundi mets les factures Distram dans un tableau "mes achats"`)
	if cfg == nil {
		t.Fatal("Parse returned nil")
	}
	if cfg.TableName != "Mes Achats" {
		t.Fatalf("TableName = %q, want %q", cfg.TableName, "Mes Achats")
	}
}

func TestDescriptionTruncated(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	long := "chaque lundi récupère les factures distram "
	for len(long) < 400 {
		long += "encore et encore "
	}
	cfg := p.Parse(long)
	if cfg == nil {
		t.Fatal("Parse returned nil")
	}
	if n := len([]rune(cfg.Description)); n != 200 {
		t.Fatalf("Description length = %d, want 200", n)
	}
}

func TestParseDeterministic(t *testing.T) {
	t.Parallel()
	p := newTestParser()
	text := "Crée une automatisation qui récupère chaque vendredi à 8h les factures de metro et sysco, et alerte moi si plus de 300 €"
	a := p.Parse(text)
	b := p.Parse(text)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Parse is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestDescribeTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		trigger automation.Trigger
		want    string
	}{
		{automation.Trigger{Frequency: automation.FreqDaily, Hour: 9}, "Chaque jour à 9h"},
		{automation.Trigger{Frequency: automation.FreqWeekly, DayOfWeek: intp(3), Hour: 14}, "Chaque jeudi à 14h"},
		{automation.Trigger{Frequency: automation.FreqMonthly, Hour: 9}, "Chaque mois à 9h"},
		{automation.Trigger{Hour: 10}, "Régulièrement à 10h"},
	}
	for _, tt := range tests {
		if got := DescribeTrigger(tt.trigger); got != tt.want {
			t.Fatalf("DescribeTrigger(%+v) = %q, want %q", tt.trigger, got, tt.want)
		}
	}
}

func intp(v int) *int { return &v }

func ExampleParser_Parse() {
	p := New(nil)
	cfg := p.Parse("Chaque lundi à 9h récupère les factures de Distram")
	fmt.Println(cfg.Trigger.Cron, cfg.Vendors)
	// Output: 0 9 * * 0 [distram]
}
