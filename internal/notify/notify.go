// Package notify pushes automation alerts and run failures to a Telegram
// chat. It is a send-only consumer of the event bus; when no token is
// configured it stays disabled and the rest of the system runs unchanged.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"invomat/internal/automation/engine"
	"invomat/internal/eventbus"
	"invomat/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

// sender is the slice of the Telegram client we use; telebot.Bot satisfies it.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	cfg     Config
	bot     sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	unsub  func()
	doneCh chan struct{}
}

// New builds the notifier. A disabled config or empty token yields a service
// whose Start is a no-op.
func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, bus: bus, log: log}
	if !cfg.Enabled || cfg.Token == "" {
		return s, nil
	}

	// Send-only: no poller, the bot never consumes updates.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	s.bot = bot

	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	return s, nil
}

func (s *Service) Enabled() bool { return s.bot != nil }

// Start subscribes to the bus and forwards alert and failure events until the
// context is canceled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		s.log.Debug("notifier disabled")
		return
	}

	s.mu.Lock()
	if s.doneCh != nil {
		s.mu.Unlock()
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.doneCh = make(chan struct{})
	done := s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, ev)
			}
		}
	}()
	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID))
}

func (s *Service) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	done := s.doneCh
	s.unsub = nil
	s.doneCh = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	var text string
	switch ev.Type {
	case eventbus.TypeAlert:
		a, ok := ev.Data.(engine.AlertEvent)
		if !ok {
			return
		}
		text = fmt.Sprintf("🔔 %s\n%d nouvelle(s) facture(s), total %.2f €", a.Name, a.RowsAdded, a.BatchTotal)
		if a.Threshold != nil {
			text += fmt.Sprintf(" (seuil %.2f €)", *a.Threshold)
		}
	case eventbus.TypeRunFailed:
		r, ok := ev.Data.(engine.RunEvent)
		if !ok {
			return
		}
		text = fmt.Sprintf("⚠️ Échec de l'automatisation %s\n%s", r.Name, r.Error)
	default:
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), text); err != nil {
		s.log.Warn("alert send failed", logx.String("event", ev.Type), logx.Err(err))
		return
	}
	s.log.Debug("alert sent", logx.String("event", ev.Type))
}
