// Package mail defines the email gateway boundary: the narrow interface the
// automation engine consumes, plus query construction and call throttling.
// Provider specifics (Gmail, IMAP, OAuth) live behind the interface and are
// not part of this module.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Message is a search result entry.
type Message struct {
	ID             string    `json:"id"`
	Date           time.Time `json:"date"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet,omitempty"`
	HasAttachments bool      `json:"has_attachments"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// FullMessage is a message with its attachment metadata resolved.
type FullMessage struct {
	Message
	Attachments []Attachment `json:"attachments"`
}

// Amount is a monetary value derived from a document by the provider.
type Amount struct {
	Value     float64 `json:"value"`
	Formatted string  `json:"formatted"`
	Source    string  `json:"source"`
}

// Gateway is the provider boundary. ExtractInvoiceAmount returns (nil, nil)
// when the attachment yields no usable amount.
type Gateway interface {
	Search(ctx context.Context, accountID, query string) ([]Message, error)
	GetMessage(ctx context.Context, accountID, messageID string) (*FullMessage, error)
	ExtractInvoiceAmount(ctx context.Context, accountID, messageID, attachmentID string) (*Amount, error)
}

// BuildInvoiceQuery produces a provider search query scoping by date and
// sender with a generic invoice subject hint, e.g.
// "after:2025/03/10 from:facturation@distram.com subject:facture".
func BuildInvoiceQuery(after time.Time, from string) string {
	return fmt.Sprintf("after:%s from:%s subject:facture", after.Format("2006/01/02"), from)
}

// IsInvoiceCandidate reports whether an attachment looks like an invoice
// document: PDF-like, and not a terms/conditions file.
func IsInvoiceCandidate(att Attachment) bool {
	name := strings.ToLower(att.Filename)
	if strings.Contains(name, "cgv") || strings.Contains(name, "condition") || strings.Contains(name, "terms") {
		return false
	}
	return att.MIMEType == "application/pdf" || strings.HasSuffix(name, ".pdf")
}

// ErrNoGateway is returned by the unconfigured gateway.
var ErrNoGateway = errors.New("mail: no email gateway configured")

// Unconfigured returns a gateway that fails every call with ErrNoGateway.
// The daemon uses it when no provider has been wired in, so runs complete
// with per-item errors instead of crashing.
func Unconfigured() Gateway { return unconfigured{} }

type unconfigured struct{}

func (unconfigured) Search(context.Context, string, string) ([]Message, error) {
	return nil, ErrNoGateway
}

func (unconfigured) GetMessage(context.Context, string, string) (*FullMessage, error) {
	return nil, ErrNoGateway
}

func (unconfigured) ExtractInvoiceAmount(context.Context, string, string, string) (*Amount, error) {
	return nil, ErrNoGateway
}

// Throttle wraps a gateway with a token-bucket rate limit and an optional
// per-call timeout. perSec <= 0 disables the limiter, timeout <= 0 disables
// the deadline.
func Throttle(gw Gateway, perSec int, timeout time.Duration) Gateway {
	t := &throttled{gw: gw, timeout: timeout}
	if perSec > 0 {
		t.lim = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
	return t
}

type throttled struct {
	gw      Gateway
	lim     *rate.Limiter
	timeout time.Duration
}

func (t *throttled) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if t.lim != nil {
		if err := t.lim.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if t.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (t *throttled) Search(ctx context.Context, accountID, query string) ([]Message, error) {
	ctx, cancel, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return t.gw.Search(ctx, accountID, query)
}

func (t *throttled) GetMessage(ctx context.Context, accountID, messageID string) (*FullMessage, error) {
	ctx, cancel, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return t.gw.GetMessage(ctx, accountID, messageID)
}

func (t *throttled) ExtractInvoiceAmount(ctx context.Context, accountID, messageID, attachmentID string) (*Amount, error) {
	ctx, cancel, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return t.gw.ExtractInvoiceAmount(ctx, accountID, messageID, attachmentID)
}
