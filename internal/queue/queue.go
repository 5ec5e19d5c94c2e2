package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope wraps every queued payload with a delivery id so an entry in the
// processing list can be matched exactly during ack and reclaim.
type envelope struct {
	Id   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Message is one received delivery. The ack token identifies the in-flight
// entry; an unacked message becomes redeliverable once its visibility
// deadline passes.
type Message struct {
	Id   string
	Body []byte

	raw string
}

// Queue is an at-least-once message queue on Redis. Sent messages wait in a
// ready list; Receive atomically moves them to a processing list and stamps
// a visibility deadline; Ack removes them for good. Entries whose deadline
// expires before an ack are pushed back to the ready list by Reclaim, which
// is how duplicate deliveries arise. No ordering is guaranteed.
type Queue struct {
	rdb        redis.UniversalClient
	keyPrefix  string
	name       string
	visibility time.Duration
}

func New(rdb redis.UniversalClient, keyPrefix, name string, visibility time.Duration) *Queue {
	return &Queue{
		rdb:        rdb,
		keyPrefix:  keyPrefix,
		name:       name,
		visibility: visibility,
	}
}

func (q *Queue) Name() string {
	return q.name
}

// ReadyKey is the list a publisher pushes into. The notifier fans out to
// subscriber queues through this key.
func (q *Queue) ReadyKey() string {
	return fmt.Sprintf("%s:queue:%s:ready", q.keyPrefix, q.name)
}

func (q *Queue) procKey() string {
	return fmt.Sprintf("%s:queue:%s:processing", q.keyPrefix, q.name)
}

func (q *Queue) deadlineKey() string {
	return fmt.Sprintf("%s:queue:%s:deadlines", q.keyPrefix, q.name)
}

// Encode wraps a payload in a fresh delivery envelope. Exported so the
// notifier can push the same wire format that Send uses.
func Encode(payload any) (string, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return "", err
	}
	data, err := sonic.Marshal(&envelope{Id: uuid.New().String(), Body: body})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (q *Queue) Send(ctx context.Context, payload any) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.ReadyKey(), data).Err()
}

// Receive returns up to max messages, long-polling for up to wait when the
// queue is empty. The move from ready to processing is a single Redis
// operation, so a crash between receive and ack never loses a message.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	var msgs []Message

	raw, err := q.rdb.BRPopLPush(ctx, q.ReadyKey(), q.procKey(), wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	m, err := q.track(ctx, raw)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, m)

	for len(msgs) < max {
		raw, err = q.rdb.RPopLPush(ctx, q.ReadyKey(), q.procKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return msgs, err
		}
		m, err = q.track(ctx, raw)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}

func (q *Queue) track(ctx context.Context, raw string) (Message, error) {
	deadline := float64(time.Now().Add(q.visibility).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.deadlineKey(), redis.Z{Score: deadline, Member: raw}).Err(); err != nil {
		return Message{}, err
	}

	var env envelope
	if err := sonic.UnmarshalString(raw, &env); err != nil {
		// Undecodable entries would otherwise sit in processing forever.
		_ = q.drop(ctx, raw)
		return Message{}, fmt.Errorf("malformed queue entry on %s: %w", q.name, err)
	}
	return Message{Id: env.Id, Body: env.Body, raw: raw}, nil
}

// Ack deletes a delivered message permanently.
func (q *Queue) Ack(ctx context.Context, m Message) error {
	return q.drop(ctx, m.raw)
}

func (q *Queue) drop(ctx context.Context, raw string) error {
	if err := q.rdb.LRem(ctx, q.procKey(), 1, raw).Err(); err != nil {
		return err
	}
	return q.rdb.ZRem(ctx, q.deadlineKey(), raw).Err()
}

// Reclaim pushes every in-flight entry whose visibility deadline has passed
// back onto the ready list. Run it from a single reaper at a time; the LRem
// guard keeps a concurrent ack from racing into a double requeue.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	expired, err := q.rdb.ZRangeByScore(ctx, q.deadlineKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, raw := range expired {
		n, err := q.requeue(ctx, raw)
		if err != nil {
			return requeued, err
		}
		requeued += n
		if err := q.rdb.ZRem(ctx, q.deadlineKey(), raw).Err(); err != nil {
			return requeued, err
		}
	}

	// A crash (or a failed ZAdd) between the ready→processing move and the
	// deadline stamp leaves an entry in processing with no zset member, so
	// the deadline pass above can never see it. Requeue those strays too.
	// A receiver racing this pass just produces a duplicate delivery.
	inflight, err := q.rdb.LRange(ctx, q.procKey(), 0, -1).Result()
	if err != nil {
		return requeued, err
	}
	for _, raw := range inflight {
		err := q.rdb.ZScore(ctx, q.deadlineKey(), raw).Err()
		if err == nil {
			continue
		}
		if !errors.Is(err, redis.Nil) {
			return requeued, err
		}
		n, err := q.requeue(ctx, raw)
		if err != nil {
			return requeued, err
		}
		requeued += n
	}
	return requeued, nil
}

func (q *Queue) requeue(ctx context.Context, raw string) (int, error) {
	removed, err := q.rdb.LRem(ctx, q.procKey(), 1, raw).Result()
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := q.rdb.LPush(ctx, q.ReadyKey(), raw).Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

// Decode unmarshals a message body into T.
func Decode[T any](m Message) (*T, error) {
	var v T
	if err := sonic.Unmarshal(m.Body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
