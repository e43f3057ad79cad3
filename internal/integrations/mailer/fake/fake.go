package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/DeedBox/internal/integrations/mailer"
)

// FakeSender логирует письма вместо отправки (dev-окружение без SMTP).
type FakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func New() *FakeSender { return &FakeSender{} }

func (f *FakeSender) Send(ctx context.Context, m mailer.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()

	slog.Info("fake mail", "to", m.To, "subject", m.Subject)
	return nil
}

func (f *FakeSender) Sent() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mailer.Message, len(f.sent))
	copy(out, f.sent)
	return out
}
