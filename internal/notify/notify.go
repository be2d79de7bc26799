// Package notify delivers account notifications, either directly over SMTP
// or through a message queue drained by a worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bizadmin/apiserver/internal/mail"
	"github.com/bizadmin/apiserver/internal/mq"
)

const (
	KindWelcome         = "welcome"
	KindPasswordChanged = "password_changed"

	attrKind = "kind"
)

// Welcome announces a provisioned account along with its generated password.
type Welcome struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	LoginURL string `json:"loginUrl,omitempty"`
}

// PasswordChanged tells a user their password was replaced.
type PasswordChanged struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	ChangedAt time.Time `json:"changedAt"`
}

// Direct renders notifications and hands them to a mail.Sender in-process.
type Direct struct {
	sender mail.Sender
}

func NewDirect(sender mail.Sender) *Direct {
	return &Direct{sender: sender}
}

func (d *Direct) Welcome(ctx context.Context, n Welcome) error {
	msg, err := mail.WelcomeMessage(mail.WelcomeData{
		Name:     n.Name,
		Email:    n.Email,
		Password: n.Password,
		LoginURL: n.LoginURL,
	})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

func (d *Direct) PasswordChanged(ctx context.Context, n PasswordChanged) error {
	msg, err := mail.PasswordChangedMessage(n.Email, mail.PasswordChangedData{
		Name:      n.Name,
		ChangedAt: n.ChangedAt,
	})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

// Publisher is the publishing half of mq.MQ.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Queue enqueues notifications for a Worker to deliver. Delivery failures
// are retried by the broker rather than lost.
type Queue struct {
	publisher Publisher
	channel   string
}

func NewQueue(publisher Publisher, channel string) *Queue {
	return &Queue{publisher: publisher, channel: channel}
}

func (q *Queue) Welcome(ctx context.Context, n Welcome) error {
	return q.publish(ctx, KindWelcome, n)
}

func (q *Queue) PasswordChanged(ctx context.Context, n PasswordChanged) error {
	return q.publish(ctx, KindPasswordChanged, n)
}

func (q *Queue) publish(ctx context.Context, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", kind, err)
	}
	if _, err := q.publisher.Publish(ctx, q.channel, data, map[string]string{attrKind: kind}); err != nil {
		return fmt.Errorf("publish %s notification: %w", kind, err)
	}
	return nil
}

// dispatch decodes a queued message and delivers it through d.
func dispatch(ctx context.Context, d *Direct, msg mq.Message) error {
	switch kind := msg.Attributes[attrKind]; kind {
	case KindWelcome:
		var n Welcome
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			return errors.Join(mq.ErrDrop, fmt.Errorf("decode welcome: %w", err))
		}
		return d.Welcome(ctx, n)
	case KindPasswordChanged:
		var n PasswordChanged
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			return errors.Join(mq.ErrDrop, fmt.Errorf("decode password change: %w", err))
		}
		return d.PasswordChanged(ctx, n)
	default:
		return fmt.Errorf("%w: unknown notification kind %q", mq.ErrDrop, kind)
	}
}
