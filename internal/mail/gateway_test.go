package mail

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBuildInvoiceQuery(t *testing.T) {
	t.Parallel()
	after := time.Date(2025, 3, 3, 15, 30, 0, 0, time.UTC)
	got := BuildInvoiceQuery(after, "facturation@distram.com")
	want := "after:2025/03/03 from:facturation@distram.com subject:facture"
	if got != want {
		t.Fatalf("BuildInvoiceQuery = %q, want %q", got, want)
	}
}

func TestIsInvoiceCandidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		att  Attachment
		want bool
	}{
		{"pdf mime", Attachment{Filename: "facture", MIMEType: "application/pdf"}, true},
		{"pdf extension", Attachment{Filename: "FACTURE_001.PDF"}, true},
		{"cgv filename", Attachment{Filename: "cgv.pdf", MIMEType: "application/pdf"}, false},
		{"conditions filename", Attachment{Filename: "conditions_generales.pdf"}, false},
		{"terms filename", Attachment{Filename: "terms-of-service.pdf"}, false},
		{"image", Attachment{Filename: "logo.png", MIMEType: "image/png"}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInvoiceCandidate(tt.att); got != tt.want {
				t.Fatalf("IsInvoiceCandidate(%+v) = %v, want %v", tt.att, got, tt.want)
			}
		})
	}
}

func TestUnconfigured(t *testing.T) {
	t.Parallel()
	gw := Unconfigured()
	if _, err := gw.Search(context.Background(), "acct", "q"); !errors.Is(err, ErrNoGateway) {
		t.Fatalf("Search err = %v, want ErrNoGateway", err)
	}
	if _, err := gw.GetMessage(context.Background(), "acct", "m"); !errors.Is(err, ErrNoGateway) {
		t.Fatalf("GetMessage err = %v, want ErrNoGateway", err)
	}
}

// countingGateway records how many calls reach the wrapped gateway.
type countingGateway struct {
	calls int
}

func (c *countingGateway) Search(ctx context.Context, _, _ string) ([]Message, error) {
	c.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
func (c *countingGateway) GetMessage(context.Context, string, string) (*FullMessage, error) {
	c.calls++
	return nil, nil
}
func (c *countingGateway) ExtractInvoiceAmount(context.Context, string, string, string) (*Amount, error) {
	c.calls++
	return nil, nil
}

func TestThrottlePassesThrough(t *testing.T) {
	t.Parallel()
	inner := &countingGateway{}
	gw := Throttle(inner, 0, 0) // limiter and timeout both disabled

	for i := 0; i < 3; i++ {
		if _, err := gw.Search(context.Background(), "acct", "q"); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestThrottleHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	inner := &countingGateway{}
	gw := Throttle(inner, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gw.Search(ctx, "acct", "q"); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if inner.calls != 0 {
		t.Fatalf("calls = %d, want 0", inner.calls)
	}
}
