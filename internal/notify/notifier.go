package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Publisher fans a payload out to every queue subscribed to a topic.
// Delivery to subscribed queues is at-least-once; anything beyond that
// (webhooks) is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Notifier implements Publisher on Redis: subscriptions are a set of ready
// list keys per topic, and publishing pushes the same envelope format the
// queues use. Subscriptions are durable, so a publisher process does not
// need to know which workers exist.
type Notifier struct {
	rdb       redis.UniversalClient
	keyPrefix string
	webhook   *WebhookSender
}

func NewNotifier(rdb redis.UniversalClient, keyPrefix string, webhook *WebhookSender) *Notifier {
	return &Notifier{rdb: rdb, keyPrefix: keyPrefix, webhook: webhook}
}

func (n *Notifier) subsKey(topic string) string {
	return fmt.Sprintf("%s:topic:%s:subs", n.keyPrefix, topic)
}

// Subscribe registers q to receive every payload published on topic.
// Subscribing an already-subscribed queue is a no-op.
func (n *Notifier) Subscribe(ctx context.Context, topic string, q *queue.Queue) error {
	return n.rdb.SAdd(ctx, n.subsKey(topic), q.ReadyKey()).Err()
}

func (n *Notifier) Publish(ctx context.Context, topic string, payload any) error {
	data, err := queue.Encode(payload)
	if err != nil {
		return err
	}

	keys, err := n.rdb.SMembers(ctx, n.subsKey(topic)).Result()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := n.rdb.LPush(ctx, key, data).Err(); err != nil {
			return fmt.Errorf("publish to %s subscriber %s: %w", topic, key, err)
		}
	}

	// Webhook targets get no delivery guarantee; a failure must not fail
	// the publish that already reached the queues.
	if n.webhook != nil {
		if err := n.webhook.Send(ctx, topic, payload); err != nil {
			log.CtxWarn(ctx, "webhook delivery failed, topic: %s, err: %v", topic, err)
		}
	}
	return nil
}
