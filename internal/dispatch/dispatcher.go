package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/crm"
	"callbridge/internal/observe"
	"callbridge/internal/routing"
)

// Options bound retry behavior.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
}

func (o Options) withDefaults() Options {
	out := o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = time.Second
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = time.Minute
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	return out
}

// Dispatcher hands finished routing decisions to the CRM transport,
// decoupled from correlation: submissions run on a worker goroutine fed by a
// buffered queue, so a slow or failing CRM endpoint never blocks event
// ingestion. Failed submissions are retried with bounded exponential backoff
// and then dead-lettered.
type Dispatcher struct {
	transport crm.Transport
	guard     Guard
	letters   DeadLetterRepository
	sink      *observe.Service
	log       *slog.Logger
	opts      Options

	queue chan routing.Decision
	wg    sync.WaitGroup

	// sleep is injectable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error

	closeOnce sync.Once
	clock     func() time.Time
}

func New(transport crm.Transport, guard Guard, letters DeadLetterRepository, sink *observe.Service, log *slog.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		guard:     guard,
		letters:   letters,
		sink:      sink,
		log:       log,
		opts:      opts,
		queue:     make(chan routing.Decision, opts.QueueSize),
		sleep:     sleepCtx,
		clock:     time.Now,
	}
}

// Start launches the worker. Call Close to stop it after the queue drains.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for dec := range d.queue {
			d.process(ctx, dec)
		}
	}()
}

// Submit enqueues a decision. When the queue is full the decision goes
// straight to the dead-letter store instead of blocking ingestion or being
// dropped.
func (d *Dispatcher) Submit(ctx context.Context, dec routing.Decision) {
	select {
	case d.queue <- dec:
	default:
		d.log.Error("dispatch queue full, dead-lettering", "call_id", dec.CallID, "entity", dec.EntityType)
		d.deadLetter(ctx, dec, 0, "queue_full")
	}
}

// Close stops intake and waits for queued decisions to finish processing.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Requeue re-submits a parked dead letter with a fresh attempt budget and
// removes it on success.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	dl, err := d.letters.Get(ctx, id)
	if err != nil {
		return err
	}
	dec, err := dl.Decision()
	if err != nil {
		return err
	}
	if err := d.letters.Delete(ctx, id); err != nil {
		return err
	}
	d.Submit(ctx, dec)
	return nil
}

func (d *Dispatcher) process(ctx context.Context, dec routing.Decision) {
	if d.guard != nil {
		granted, err := d.guard.Claim(ctx, dec.CallID, string(dec.EntityType))
		if err != nil {
			// Dedupe degrades to per-process; correlation must not depend on
			// guard availability.
			d.log.Warn("dispatch claim failed, proceeding", "call_id", dec.CallID, "err", err)
		} else if !granted {
			d.log.Info("dispatch already claimed, skipping", "call_id", dec.CallID, "entity", dec.EntityType)
			return
		}
	}

	backoff := d.opts.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err := d.transport.SubmitActivity(ctx, dec.Activity)
		if err == nil {
			d.log.Info("activity submitted",
				"call_id", dec.CallID,
				"entity", dec.EntityType,
				"outcome", dec.Activity.Outcome,
				"attempt", attempt,
			)
			return
		}
		lastErr = err
		if d.sink != nil {
			d.sink.DispatchFailed(ctx, dec.CallID, string(dec.EntityType), err.Error())
		}
		if !crm.IsRetryable(err) {
			d.log.Error("dispatch failed permanently", "call_id", dec.CallID, "entity", dec.EntityType, "err", err)
			d.releaseClaim(ctx, dec)
			d.deadLetter(ctx, dec, attempt, err.Error())
			return
		}
		if attempt == d.opts.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, backoff); err != nil {
			// Shutdown mid-retry: park the decision rather than lose it.
			d.releaseClaim(context.WithoutCancel(ctx), dec)
			d.deadLetter(context.WithoutCancel(ctx), dec, attempt, lastErr.Error())
			return
		}
		backoff *= 2
		if backoff > d.opts.MaxBackoff {
			backoff = d.opts.MaxBackoff
		}
	}

	d.log.Error("dispatch retries exhausted", "call_id", dec.CallID, "entity", dec.EntityType, "err", lastErr)
	d.releaseClaim(ctx, dec)
	d.deadLetter(ctx, dec, d.opts.MaxAttempts, lastErr.Error())
}

// releaseClaim undoes the once-claim for a decision that did not reach the
// CRM, so a later requeue is not mistaken for a duplicate.
func (d *Dispatcher) releaseClaim(ctx context.Context, dec routing.Decision) {
	if d.guard == nil {
		return
	}
	if err := d.guard.Release(ctx, dec.CallID, string(dec.EntityType)); err != nil {
		d.log.Warn("dispatch claim release failed", "call_id", dec.CallID, "err", err)
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, dec routing.Decision, attempts int, reason string) {
	if d.sink != nil {
		d.sink.DeadLettered(ctx, dec.CallID, string(dec.EntityType))
	}
	if d.letters == nil {
		return
	}
	payload, err := json.Marshal(dec)
	if err != nil {
		d.log.Error("dead letter encode failed", "call_id", dec.CallID, "err", err)
		return
	}
	dl := DeadLetter{
		ID:         dec.ID,
		CallID:     dec.CallID,
		EntityType: string(dec.EntityType),
		Payload:    string(payload),
		Attempts:   attempts,
		LastError:  reason,
		CreatedAt:  d.clock().UTC(),
	}
	if err := d.letters.Save(ctx, dl); err != nil {
		d.log.Error("dead letter save failed", "call_id", dec.CallID, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
