package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis implements Broker over Redis Pub/Sub so every API replica sees
// events published by any other.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

func NewRedis(url string, log *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: redis.NewClient(opt), log: log, subs: map[chan Event]*redis.PubSub{}}, nil
}

func (b *Redis) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(topic))
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe failed", zap.String("topic", topic), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once the
// forwarding goroutine drains.
func (b *Redis) Unsubscribe(_ string, ch chan Event) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *Redis) Publish(topic string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(topic), data).Err(); err != nil {
		b.log.Warn("redis publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (b *Redis) Close() error { return b.rdb.Close() }

func (b *Redis) chanName(topic string) string { return "granix:" + topic }
