// README: Change feeds that wake order subscribers; in-process and Redis pub/sub.
package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"turbo/internal/types"
)

// ChangeFeed carries "order id changed" signals from writers to subscribers.
// Subscribers re-read the full snapshot, so dropped duplicates are harmless.
type ChangeFeed interface {
	Publish(ctx context.Context, id types.ID) error
	Listen(ctx context.Context) (<-chan types.ID, func(), error)
}

// LocalFeed fans out changes inside one process.
type LocalFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan types.ID
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[int]chan types.ID)}
}

func (f *LocalFeed) Publish(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- id:
		default:
			// a wake-up is already pending for this subscriber
		}
	}
	return nil
}

func (f *LocalFeed) Listen(_ context.Context) (<-chan types.ID, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.next
	f.next++
	ch := make(chan types.ID, 1)
	f.subs[key] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, key)
			f.mu.Unlock()
		})
	}, nil
}

const defaultOrderChannel = "turbo:orders:changed"

// RedisFeed publishes change signals on a Redis pub/sub channel so every API
// instance (and its stream subscribers) sees writes made by the others.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = defaultOrderChannel
	}
	return &RedisFeed{client: client, channel: channel}
}

func (f *RedisFeed) Publish(ctx context.Context, id types.ID) error {
	return f.client.Publish(ctx, f.channel, string(id)).Err()
}

func (f *RedisFeed) Listen(ctx context.Context) (<-chan types.ID, func(), error) {
	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan types.ID, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- types.ID(msg.Payload):
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}, nil
}

// subscribeFeed pushes an initial snapshot, then a fresh one after every
// signal, until the returned function is called or ctx ends.
func subscribeFeed(
	ctx context.Context,
	feed ChangeFeed,
	list func(context.Context) ([]*Order, error),
	fn func([]*Order),
	log *zap.Logger,
) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	signals, stop, err := feed.Listen(ctx)
	if err != nil {
		cancel()
		return nil, transport("listen", err)
	}

	push := func() {
		orders, err := list(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("refresh subscription snapshot", zap.Error(err))
			}
			return
		}
		fn(orders)
	}

	go func() {
		defer stop()
		push()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				push()
			}
		}
	}()
	return cancel, nil
}
