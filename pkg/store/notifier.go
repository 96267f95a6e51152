package store

import (
	"context"
	"sync"
)

// LocalNotifier fans change signals out to listeners in the same process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[*localListener]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[*localListener]struct{})}
}

// Publish signals every listener of userID without blocking.
func (n *LocalNotifier) Publish(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for l := range n.listeners[userID] {
		l.signal()
	}
	return nil
}

// Listen registers a listener for userID.
func (n *LocalNotifier) Listen(_ context.Context, userID string) (Listener, error) {
	l := &localListener{
		ch: make(chan struct{}, 1),
	}
	l.release = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners[userID], l)
		if len(n.listeners[userID]) == 0 {
			delete(n.listeners, userID)
		}
		close(l.ch)
	}
	n.mu.Lock()
	if n.listeners[userID] == nil {
		n.listeners[userID] = make(map[*localListener]struct{})
	}
	n.listeners[userID][l] = struct{}{}
	n.mu.Unlock()
	return l, nil
}

// listenerCount is used by tests to observe releases.
func (n *LocalNotifier) listenerCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[userID])
}

type localListener struct {
	ch      chan struct{}
	once    sync.Once
	release func()
}

// signal is called with the notifier lock held, so it never races with close.
func (l *localListener) signal() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *localListener) Changes() <-chan struct{} {
	return l.ch
}

func (l *localListener) Close() error {
	l.once.Do(l.release)
	return nil
}
