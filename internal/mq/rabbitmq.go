package mq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bizadmin/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterSuffix = ".dead"
	defaultRetryWait = 2 * time.Second
)

// RabbitMQClient publishes on one confirm-mode channel shared by all callers
// and opens a dedicated channel per subscription. Messages a handler drops
// are dead-lettered to "<queue>.dead" instead of being discarded.
type RabbitMQClient struct {
	conn *amqp.Connection

	pubMu    sync.Mutex
	pub      *amqp.Channel
	declared map[string]struct{}

	queueDurable    bool
	queueAutoDelete bool
	prefetchCount   int
	retryWait       time.Duration
}

// NewRabbitMQClient dials the broker and prepares the publishing channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitMQClient{
		conn:            conn,
		pub:             pub,
		declared:        make(map[string]struct{}),
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		prefetchCount:   cfg.PrefetchCount,
		retryWait:       defaultRetryWait,
	}, nil
}

// Publish enqueues data and waits for the broker to confirm it.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if err := r.declareLocked(r.pub, channel); err != nil {
		return "", err
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	messageID := newMessageID()
	confirm, err := r.pub.PublishWithDeferredConfirmWithContext(ctx, "", channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: r.deliveryMode(),
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return "", err
	}
	if !acked {
		return "", fmt.Errorf("broker rejected message %s", messageID)
	}
	return messageID, nil
}

// Subscribe consumes the named queue until ctx is done. A failed delivery is
// requeued after a short pause; one failed with ErrDrop is dead-lettered.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
	}()

	if r.prefetchCount > 0 {
		if err := ch.Qos(r.prefetchCount, 0, false); err != nil {
			return err
		}
	}
	if err := declareQueues(ch, channel, r.queueDurable, r.queueAutoDelete); err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("consumer-%s", newMessageID())
	deliveries, err := ch.Consume(channel, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			message := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			}

			err := handler(ctx, message)
			switch {
			case err == nil:
				_ = delivery.Ack(false)
			case errors.Is(err, ErrDrop):
				_ = delivery.Nack(false, false)
			default:
				waited := sleepCtx(ctx, r.retryWait)
				_ = delivery.Nack(false, true)
				if !waited {
					return ctx.Err()
				}
			}
		}
	}
}

// Close closes the publishing channel and the connection, which also ends
// any running subscription.
func (r *RabbitMQClient) Close() error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// deliveryMode persists messages only when the queue itself survives a
// broker restart.
func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.queueDurable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// declareLocked declares a queue once per client. Caller holds pubMu.
func (r *RabbitMQClient) declareLocked(ch *amqp.Channel, name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if err := declareQueues(ch, name, r.queueDurable, r.queueAutoDelete); err != nil {
		return err
	}
	r.declared[name] = struct{}{}
	return nil
}

// declareQueues declares name together with its dead-letter queue.
func declareQueues(ch *amqp.Channel, name string, durable, autoDelete bool) error {
	dead := name + deadLetterSuffix
	if _, err := ch.QueueDeclare(dead, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dead, err)
	}
	if _, err := ch.QueueDeclare(name, durable, autoDelete, false, false, queueArgs(name)); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	return nil
}

func queueArgs(name string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name + deadLetterSuffix,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}

func newMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
