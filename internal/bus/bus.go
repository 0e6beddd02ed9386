// Package bus implements the Redis-backed command bus: per-cluster
// pub/sub for command delivery to executors, and short-lived result
// channels for the dispatcher to await a single Result.
//
// The select/defer-unsubscribe loop shape here is the same one
// kubilitics-backend's overview stream endpoint uses for its
// WebSocket subscriptions, generalized from an in-process channel hub
// to Redis pub/sub so delivery works across fabric replicas.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Key and channel names match spec.md §6's Redis schema literally, the
// wire contract for coexistence with other implementations.
func commandChannel(clusterID string) string { return "executor-commands:" + clusterID }
func resultChannel(commandID string) string  { return "command:result-channel:" + commandID }
func activeKey(clusterID string) string      { return "cluster:active:" + clusterID }
func pendingKey(commandID string) string     { return "command:pending:" + commandID }

// activeTTL bounds how long the cluster:active marker survives its
// last refresh (executor connect, keepalive, heartbeat, capability
// report, or dispatch).
const activeTTL = 60 * time.Second

// Bus is the Redis-backed command/result transport shared by every
// fabric replica.
type Bus struct {
	rdb *redis.Client
}

// New wraps an existing Redis client. The client's lifecycle (Close)
// belongs to the caller.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Ping verifies Redis reachability, used by the /healthz handler.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Subscription is a live subscription to one cluster's command
// channel. Callers MUST call Close when done, on every exit path,
// to release the underlying Redis pub/sub connection.
type Subscription struct {
	clusterID string
	pubsub    *redis.PubSub
	commands  chan *model.Command
	closed    chan struct{}
}

// Subscribe opens a subscription to clusterID's command channel.
// The returned Subscription delivers commands as they are Published;
// the caller must call Close when done (Close is idempotent).
func (b *Bus) Subscribe(ctx context.Context, clusterID string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, commandChannel(clusterID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", clusterID, err)
	}

	sub := &Subscription{
		clusterID: clusterID,
		pubsub:    pubsub,
		commands:  make(chan *model.Command, 8),
		closed:    make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (s *Subscription) pump() {
	defer close(s.commands)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd model.Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				continue
			}
			select {
			case s.commands <- &cmd:
			case <-s.closed:
				return
			}
		}
	}
}

// Commands returns the channel of commands delivered to this
// subscription. Closed when Close is called or the underlying Redis
// connection drops.
func (s *Subscription) Commands() <-chan *model.Command {
	return s.commands
}

// Close releases the subscription's Redis pub/sub connection. Safe to
// call multiple times.
func (s *Subscription) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	return s.pubsub.Close()
}

// Publish delivers cmd to clusterID's connected executor, if any.
// Publishing to a channel with no subscriber is not an error: per
// spec.md §4.4, a registered-but-offline cluster still gets a
// publish, and the dispatcher simply times out waiting on AwaitResult
// rather than failing fast on a missing subscriber.
func (b *Bus) Publish(ctx context.Context, clusterID string, cmd *model.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		metrics.BusPublishTotal.WithLabelValues("marshal_error").Inc()
		return fmt.Errorf("bus: marshal command: %w", err)
	}
	n, err := b.rdb.Publish(ctx, commandChannel(clusterID), payload).Result()
	if err != nil {
		metrics.BusPublishTotal.WithLabelValues("redis_error").Inc()
		return fmt.Errorf("bus: publish to %s: %w", clusterID, err)
	}
	if n == 0 {
		metrics.BusPublishTotal.WithLabelValues("no_subscriber").Inc()
	} else {
		metrics.BusPublishTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// AwaitResult blocks until a Result for commandID arrives on its
// per-command pub/sub channel, ctx is cancelled, or deadline passes.
// It subscribes before the caller publishes the command is not
// required here: the dispatcher is expected to call AwaitResult only
// after Publish, and DeliverResult additionally persists the result
// under a short-TTL key so a result published in the race window
// between Publish and AwaitResult's Subscribe is not lost — AwaitResult
// checks that key first.
func (b *Bus) AwaitResult(ctx context.Context, commandID string, deadline time.Time) (*model.Result, error) {
	key := resultKey(commandID)

	if raw, err := b.rdb.Get(ctx, key).Result(); err == nil {
		var res model.Result
		if jErr := json.Unmarshal([]byte(raw), &res); jErr == nil {
			return &res, nil
		}
	}

	pubsub := b.rdb.Subscribe(ctx, resultChannel(commandID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("bus: subscribe result %s: %w", commandID, err)
	}

	// Re-check after subscribing to close the lost-wakeup window: a
	// result delivered between the first Get and Receive above would
	// otherwise never be observed by this subscription.
	if raw, err := b.rdb.Get(ctx, key).Result(); err == nil {
		var res model.Result
		if jErr := json.Unmarshal([]byte(raw), &res); jErr == nil {
			return &res, nil
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	ch := pubsub.Channel()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, model.NewError(model.ErrTimeout, "command timed out waiting for result")
	case msg, ok := <-ch:
		if !ok {
			return nil, model.NewError(model.ErrUnavailable, "result channel closed")
		}
		var res model.Result
		if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
			return nil, fmt.Errorf("bus: unmarshal result: %w", err)
		}
		return &res, nil
	}
}

func resultKey(commandID string) string { return "command:result:" + commandID }

// resultKeyTTL bounds how long a delivered result is retained for a
// dispatcher that has not yet subscribed (the lost-wakeup window).
const resultKeyTTL = 60 * time.Second

// pendingTTL bounds how long a dispatched command's pending marker
// survives, generous enough to cover a result delivered after the
// dispatcher's own wait has already timed out.
const pendingTTL = 2 * time.Minute

// MarkPending records that commandID is an in-flight, not-yet-resolved
// command, called once by the dispatcher right before Publish. It is
// the source of truth PostResult consults so a result for an unknown
// or already-delivered command_id is discarded (spec.md §6's 404
// "unknown command_id" and §8's at-most-once result ingest law).
func (b *Bus) MarkPending(ctx context.Context, commandID string) error {
	return b.rdb.Set(ctx, pendingKey(commandID), "1", pendingTTL).Err()
}

// ErrUnknownCommand is returned by DeliverResult when commandID has no
// pending marker — either it was never dispatched, its pending marker
// expired, or a result for it was already delivered once.
var ErrUnknownCommand = model.NewError(model.ErrNotFound, "unknown or already-delivered command_id")

// DeliverResult is called by the executor-facing results handler. It
// first atomically consumes commandID's pending marker — a command_id
// with no marker is rejected with ErrUnknownCommand so a duplicate
// delivery for the same id is only ever accepted once — then publishes
// the result (for a dispatcher already subscribed) and persists it
// under a short-TTL key (for a dispatcher that has not subscribed
// yet), closing the lost-wakeup window AwaitResult guards against.
func (b *Bus) DeliverResult(ctx context.Context, res *model.Result) error {
	consumed, err := b.rdb.GetDel(ctx, pendingKey(res.CommandID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("bus: check pending %s: %w", res.CommandID, err)
	}
	if consumed == "" {
		return ErrUnknownCommand
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("bus: marshal result: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, resultKey(res.CommandID), payload, resultKeyTTL)
	pipe.Publish(ctx, resultChannel(res.CommandID), payload)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("bus: deliver result: %w", err)
	}
	return nil
}

// SetActive refreshes clusterID's advisory cluster:active marker.
// Called on executor connect, stream keepalive, heartbeat and
// capability report, and by the dispatcher on every dispatch.
func (b *Bus) SetActive(ctx context.Context, clusterID string) error {
	return b.rdb.Set(ctx, activeKey(clusterID), "1", activeTTL).Err()
}

// IsActive reports whether clusterID's active marker is present and
// not yet expired.
func (b *Bus) IsActive(ctx context.Context, clusterID string) (bool, error) {
	n, err := b.rdb.Exists(ctx, activeKey(clusterID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearActive removes clusterID's active marker, used on graceful
// executor disconnect.
func (b *Bus) ClearActive(ctx context.Context, clusterID string) error {
	return b.rdb.Del(ctx, activeKey(clusterID)).Err()
}
