package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BearBump/DeedBox/internal/integrations/mailer"
	"github.com/BearBump/DeedBox/internal/models"
)

// Notifier отправляет письма по жизненному циклу заказа: готовый документ
// клиенту и алерты операторам. Ошибки доставки не валят заказ: письмо можно
// дослать, документ уже опубликован.
type Notifier struct {
	sender   mailer.Sender
	from     string
	opsEmail string
}

func New(sender mailer.Sender, from, opsEmail string) *Notifier {
	return &Notifier{sender: sender, from: from, opsEmail: opsEmail}
}

var serviceNames = map[string]string{
	models.ServiceRegular:        "נסח רגיל",
	models.ServiceHistorical:     "נסח היסטורי",
	models.ServiceConcentrated:   "נסח מרוכז",
	models.ServiceByAddress:      "איתור לפי כתובת",
	models.ServicePropertyReport: "דוח עסקאות במקרקעין",
}

// NotifyCompletion шлёт клиенту ссылку на готовый документ. Возвращает true,
// только если письмо реально ушло: вызывающий по этому признаку решает,
// переводить ли заказ COMPLETED→SENT.
func (n *Notifier) NotifyCompletion(ctx context.Context, order *models.Order, documentURL string) bool {
	name := serviceNames[order.ServiceType]
	if name == "" {
		name = order.ServiceType
	}

	msg := mailer.Message{
		From:    n.from,
		To:      order.Email,
		Subject: fmt.Sprintf("המסמך שלך מוכן — הזמנה %s", order.ID),
		HTMLBody: fmt.Sprintf(
			`<p>שלום,</p>
<p>המסמך שהזמנת (%s) מוכן להורדה:</p>
<p><a href="%s">%s</a></p>
<p>מספר הזמנה: %s</p>`,
			name, documentURL, documentURL, order.ID),
	}

	if err := n.sender.Send(ctx, msg); err != nil {
		slog.Error("completion mail failed",
			"order_id", order.ID, "to", order.Email, "error", err)
		return false
	}

	// Копия операторам, best-effort: статус заказа от неё не зависит.
	if n.opsEmail != "" {
		opsCopy := msg
		opsCopy.To = n.opsEmail
		opsCopy.Subject = fmt.Sprintf("[copy] %s", msg.Subject)
		if err := n.sender.Send(ctx, opsCopy); err != nil {
			slog.Warn("ops copy mail failed", "order_id", order.ID, "error", err)
		}
	}

	slog.Info("completion mail sent", "order_id", order.ID, "to", order.Email)
	return true
}

// AlertFailure — письмо операторам про фатальный фейл заказа. Best-effort.
func (n *Notifier) AlertFailure(ctx context.Context, order *models.Order, code, errText string, layoutSuspect bool) {
	if n.opsEmail == "" {
		return
	}

	subject := fmt.Sprintf("DeedBox: order %s failed (%s)", order.ID, code)
	if layoutSuspect {
		subject = fmt.Sprintf("DeedBox: portal layout change suspected (order %s)", order.ID)
	}

	msg := mailer.Message{
		From:    n.from,
		To:      n.opsEmail,
		Subject: subject,
		HTMLBody: fmt.Sprintf(
			`<p>Order: %s</p>
<p>Service: %s</p>
<p>Attempt: %d</p>
<p>Code: %s</p>
<p>Error: %s</p>`,
			order.ID, order.ServiceType, order.AttemptCount, code, errText),
	}

	if err := n.sender.Send(ctx, msg); err != nil {
		slog.Error("ops alert mail failed", "order_id", order.ID, "error", err)
	}
}
