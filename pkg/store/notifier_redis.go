package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultNotifyPrefix = "edaagent"

// RedisNotifier relays change signals through Redis pub/sub so subscribers on
// every replica see writes made by any replica.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	appID  string
}

// RedisNotifierConfig configures a RedisNotifier.
type RedisNotifierConfig struct {
	Client   *redis.Client
	Addr     string
	Password string
	Prefix   string
	AppID    string
}

// NewRedisNotifier builds a notifier from an existing client or an address.
func NewRedisNotifier(cfg RedisNotifierConfig) (*RedisNotifier, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errors.New("app id required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultNotifyPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix, appID: appID}, nil
}

func (n *RedisNotifier) channel(userID string) string {
	return fmt.Sprintf("%s:%s:designs:%s", n.prefix, n.appID, userID)
}

// Publish announces a change for userID.
func (n *RedisNotifier) Publish(ctx context.Context, userID string) error {
	return n.client.Publish(ctx, n.channel(userID), "changed").Err()
}

// Listen subscribes to userID's channel. The subscription is confirmed before
// returning so no publish issued afterwards is missed.
func (n *RedisNotifier) Listen(ctx context.Context, userID string) (Listener, error) {
	ps := n.client.Subscribe(ctx, n.channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel(userID), err)
	}
	l := &redisListener{
		ps:   ps,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.relay()
	return l, nil
}

type redisListener struct {
	ps   *redis.PubSub
	ch   chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func (l *redisListener) relay() {
	defer close(l.done)
	defer close(l.ch)
	for range l.ps.Channel() {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}

func (l *redisListener) Changes() <-chan struct{} {
	return l.ch
}

func (l *redisListener) Close() error {
	l.once.Do(func() {
		l.err = l.ps.Close()
		<-l.done
	})
	return l.err
}
