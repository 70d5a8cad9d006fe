package notify

import (
	"context"
	"log/slog"

	"github.com/mrz1836/postmark"
)

type emailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkNotifier sends through the Postmark API.
type PostmarkNotifier struct {
	client emailSender
	from   string
	logger *slog.Logger
}

func NewPostmarkNotifier(logger *slog.Logger, serverToken, accountToken, from string) *PostmarkNotifier {
	return newPostmarkNotifier(logger, postmark.NewClient(serverToken, accountToken), from)
}

func newPostmarkNotifier(logger *slog.Logger, client emailSender, from string) *PostmarkNotifier {
	return &PostmarkNotifier{
		client: client,
		from:   from,
		logger: logger.With("module", "notify", "provider", "postmark"),
	}
}

func (n *PostmarkNotifier) Send(ctx context.Context, msg *Message) error {
	if msg.From == "" {
		msg.From = n.from
	}

	err := msg.validate("postmark")
	if err != nil {
		return err
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		Tag:      msg.Tag,
	})
	if err != nil {
		n.logger.WarnContext(ctx, "postmark delivery failed", "to", msg.To, "error_code", resp.ErrorCode, "error", err)

		// A non-zero API error code is a rejection; anything else is transport.
		if resp.ErrorCode != 0 {
			return permanent("postmark", err)
		}

		return transient("postmark", err)
	}

	n.logger.InfoContext(ctx, "email sent", "to", msg.To, "message_id", resp.MessageID)

	return nil
}
