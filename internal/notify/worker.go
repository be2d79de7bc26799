package notify

import (
	"context"
	"errors"

	"github.com/bizadmin/apiserver/internal/mq"
	"github.com/sirupsen/logrus"
)

// Subscriber is the consuming half of mq.MQ.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker drains the notification channel and delivers each message.
type Worker struct {
	subscriber Subscriber
	channel    string
	direct     *Direct
	log        logrus.FieldLogger
}

func NewWorker(subscriber Subscriber, channel string, direct *Direct, log logrus.FieldLogger) *Worker {
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		direct:     direct,
		log:        log,
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("channel", w.channel).Info("notification worker started")
	err := w.subscriber.Subscribe(ctx, w.channel, w.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	entry := w.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"kind":       msg.Attributes[attrKind],
	})
	if err := dispatch(ctx, w.direct, msg); err != nil {
		if errors.Is(err, mq.ErrDrop) {
			entry.WithError(err).Error("dropping undeliverable notification")
		} else {
			entry.WithError(err).Warn("notification delivery failed, will retry")
		}
		return err
	}
	entry.Info("notification delivered")
	return nil
}
