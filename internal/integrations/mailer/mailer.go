package mailer

import "context"

type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}
