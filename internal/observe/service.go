package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Repository is the persistence contract for observability events.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service is the sink the correlation pipeline reports into. Every record is
// logged, counted, and appended to the repository (when one is configured).
// All of it is best-effort: a failing repository or redis never surfaces to
// the caller.
type Service struct {
	repo  Repository
	log   *slog.Logger
	rdb   *redis.Client
	clock func() time.Time

	mu       sync.Mutex
	counters map[EventType]int64
}

// Option configures a Service.
type Option func(*Service)

// WithRepository persists records through repo.
func WithRepository(repo Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithRedis mirrors counters into redis so they survive restarts and can be
// aggregated across instances.
func WithRedis(rdb *redis.Client) Option {
	return func(s *Service) { s.rdb = rdb }
}

// WithClock sets the time source. Override in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		log:      log,
		clock:    time.Now,
		counters: make(map[EventType]int64),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const redisCounterPrefix = "callbridge:stats:"

func (s *Service) record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}

	s.mu.Lock()
	s.counters[e.Type]++
	s.mu.Unlock()

	s.log.Warn(string(e.Type),
		"call_id", e.CallID,
		"event_kind", e.EventKind,
		"entity", e.Entity,
		"reason", e.Reason,
		"message", e.Message,
	)

	if s.rdb != nil {
		if err := s.rdb.Incr(ctx, redisCounterPrefix+string(e.Type)).Err(); err != nil {
			s.log.Debug("stats counter incr failed", "err", err)
		}
	}
	if s.repo != nil {
		if err := s.repo.Append(ctx, e); err != nil {
			s.log.Debug("observe append failed", "err", err)
		}
	}
}

// EventDropped records a raw event discarded by the normalizer.
func (s *Service) EventDropped(ctx context.Context, kind, callID, reason string) {
	s.record(ctx, Event{
		Type:      EventTypeEventDropped,
		CallID:    callID,
		EventKind: kind,
		Reason:    reason,
	})
}

// SessionFailed records a session that hit an illegal transition.
func (s *Service) SessionFailed(ctx context.Context, callID, state, kind string) {
	s.record(ctx, Event{
		Type:      EventTypeSessionFailed,
		CallID:    callID,
		EventKind: kind,
		Reason:    "illegal_transition",
		Message:   "event not valid in state " + state,
	})
}

// SessionExpired records an idle-timeout finalization.
func (s *Service) SessionExpired(ctx context.Context, callID string) {
	s.record(ctx, Event{
		Type:   EventTypeSessionExpired,
		CallID: callID,
		Reason: "timeout",
	})
}

// DispatchFailed records a failed submission attempt batch.
func (s *Service) DispatchFailed(ctx context.Context, callID, entity, reason string) {
	s.record(ctx, Event{
		Type:   EventTypeDispatchFailed,
		CallID: callID,
		Entity: entity,
		Reason: reason,
	})
}

// DeadLettered records a decision parked after retry exhaustion.
func (s *Service) DeadLettered(ctx context.Context, callID, entity string) {
	s.record(ctx, Event{
		Type:   EventTypeDeadLettered,
		CallID: callID,
		Entity: entity,
		Reason: "attempts_exhausted",
	})
}

// Counters returns a snapshot of the in-process counters.
func (s *Service) Counters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[string(k)] = v
	}
	return out
}
