package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"edaagent/pkg/domain"
)

// AfterSaveHook runs after a record has been written. Hook errors are logged
// and never fail the save.
type AfterSaveHook func(ctx context.Context, rec domain.DesignRecord) error

// Records is the design history facade used by the pipeline and the HTTP
// layer: it stamps and writes records, and fans change signals out to live
// subscribers.
type Records struct {
	backend  Backend
	notifier Notifier
	now      func() time.Time
	newID    func() (string, error)
	hooks    []AfterSaveHook
	logger   *slog.Logger
}

type RecordsOption func(*Records)

func WithNotifier(n Notifier) RecordsOption {
	return func(r *Records) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithClock(now func() time.Time) RecordsOption {
	return func(r *Records) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(fn func() (string, error)) RecordsOption {
	return func(r *Records) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func WithAfterSave(hooks ...AfterSaveHook) RecordsOption {
	return func(r *Records) {
		for _, h := range hooks {
			if h != nil {
				r.hooks = append(r.hooks, h)
			}
		}
	}
}

func WithLogger(logger *slog.Logger) RecordsOption {
	return func(r *Records) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecords wraps a backend. Without WithNotifier, changes are only visible to
// subscribers in this process.
func NewRecords(backend Backend, opts ...RecordsOption) *Records {
	r := &Records{
		backend:  backend,
		notifier: NewLocalNotifier(),
		now:      time.Now,
		newID:    newRecordID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Save writes a new record for userID and returns its id.
func (r *Records) Save(ctx context.Context, userID string, draft domain.DesignDraft) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", &PersistenceError{Op: "save", Err: ErrUserRequired}
	}
	id, err := r.newID()
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	now := r.now().UTC()
	netlist := draft.StructuredNetlist.Clone()
	netlist.Normalize()
	rec := domain.DesignRecord{
		ID:                id,
		UserID:            userID,
		Prompt:            draft.Prompt,
		StructuredNetlist: netlist,
		Script:            draft.Script,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.backend.InsertDesign(ctx, rec); err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	if err := r.notifier.Publish(ctx, userID); err != nil {
		r.logger.Warn("failed to notify design subscribers", "user_id", userID, "design_id", id, "err", err)
	}
	for _, hook := range r.hooks {
		if err := hook(ctx, rec); err != nil {
			r.logger.Warn("after-save hook failed", "user_id", userID, "design_id", id, "err", err)
		}
	}
	return id, nil
}

// LoadByID returns one of the user's records. A missing record yields an error
// matching ErrDesignNotFound.
func (r *Records) LoadByID(ctx context.Context, userID, id string) (domain.DesignRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.DesignRecord{}, &PersistenceError{Op: "load", Err: ErrUserRequired}
	}
	rec, ok, err := r.backend.GetDesign(ctx, userID, strings.TrimSpace(id))
	if err != nil {
		return domain.DesignRecord{}, &PersistenceError{Op: "load", Err: err}
	}
	if !ok {
		return domain.DesignRecord{}, ErrDesignNotFound
	}
	return rec, nil
}

// List returns the user's records newest first.
func (r *Records) List(ctx context.Context, userID string) ([]domain.DesignRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &PersistenceError{Op: "list", Err: ErrUserRequired}
	}
	recs, err := r.backend.ListDesigns(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return recs, nil
}

// Subscription delivers history snapshots until closed.
type Subscription struct {
	listener Listener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Subscribe delivers the user's current history to onChange before returning,
// then a fresh full snapshot after every change. Calls to onChange for one
// subscription never overlap. The subscription ends when ctx is done or Close
// is called.
func (r *Records) Subscribe(ctx context.Context, userID string, onChange func([]domain.DesignRecord)) (*Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &PersistenceError{Op: "subscribe", Err: ErrUserRequired}
	}
	if onChange == nil {
		return nil, &PersistenceError{Op: "subscribe", Err: errors.New("callback required")}
	}
	// Listen before the first read so a write racing with the snapshot still
	// produces a follow-up delivery.
	listener, err := r.notifier.Listen(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "subscribe", Err: err}
	}
	initial, err := r.backend.ListDesigns(ctx, userID)
	if err != nil {
		_ = listener.Close()
		return nil, &PersistenceError{Op: "subscribe", Err: err}
	}
	onChange(initial)

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		listener: listener,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.deliver(subCtx, sub, userID, onChange)
	return sub, nil
}

func (r *Records) deliver(ctx context.Context, sub *Subscription, userID string, onChange func([]domain.DesignRecord)) {
	defer close(sub.done)
	defer func() { _ = sub.listener.Close() }()
	changes := sub.listener.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			recs, err := r.backend.ListDesigns(ctx, userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("failed to refresh design history", "user_id", userID, "err", err)
				continue
			}
			onChange(recs)
		}
	}
}

// Close stops delivery and waits for any in-progress callback to return. It is
// safe to call more than once, but not from inside the callback.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed once delivery has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
