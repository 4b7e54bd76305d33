package vendors

import (
	"reflect"
	"testing"
)

func TestMatchOrderAndDedup(t *testing.T) {
	t.Parallel()
	d := Default()

	got := d.Match("les factures de promocash puis distram et encore promocash")
	want := []string{"promocash", "distram"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Match = %v, want %v", got, want)
	}
}

func TestMatchAccentsAndCase(t *testing.T) {
	t.Parallel()
	d := Default()

	if got := d.Match("Factures MÉTRO du mois"); !reflect.DeepEqual(got, []string{"metro"}) {
		t.Fatalf("Match = %v, want [metro]", got)
	}
	if got := d.Match("rien à voir ici"); got != nil && len(got) != 0 {
		t.Fatalf("Match = %v, want empty", got)
	}
}

func TestMatchByEmailAlias(t *testing.T) {
	t.Parallel()
	d := Default()
	got := d.Match("un mail de facturation@distram.com est arrivé")
	if !reflect.DeepEqual(got, []string{"distram"}) {
		t.Fatalf("Match = %v, want [distram]", got)
	}
}

func TestEmails(t *testing.T) {
	t.Parallel()
	d := Default()

	if got := d.Emails("metro"); !reflect.DeepEqual(got, []string{"factures@metro.fr"}) {
		t.Fatalf("Emails(metro) = %v", got)
	}
	// Known vendor without a default address mapping.
	if got := d.Emails("sysco"); got != nil {
		t.Fatalf("Emails(sysco) = %v, want nil", got)
	}
	if got := d.Emails("unknown"); got != nil {
		t.Fatalf("Emails(unknown) = %v, want nil", got)
	}
}

func TestReloadOverridesAndFallback(t *testing.T) {
	t.Parallel()
	d := New(
		map[string][]string{"acme": {"acme", "billing@acme.test"}},
		map[string][]string{"acme": {"billing@acme.test"}},
	)

	if got := d.Match("facture acme reçue"); !reflect.DeepEqual(got, []string{"acme"}) {
		t.Fatalf("Match = %v, want [acme]", got)
	}
	// The built-in directory is replaced, not merged.
	if got := d.Match("facture distram"); len(got) != 0 {
		t.Fatalf("Match = %v, want empty after override", got)
	}

	// Empty maps fall back to the defaults.
	d.Reload(nil, nil)
	if got := d.Match("facture distram"); !reflect.DeepEqual(got, []string{"distram"}) {
		t.Fatalf("Match = %v, want [distram] after fallback reload", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	if got := Normalize("Récupère les FACTURES dès lundi"); got != "recupere les factures des lundi" {
		t.Fatalf("Normalize = %q", got)
	}
}
