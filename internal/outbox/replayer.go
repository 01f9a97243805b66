package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/story"
)

const DefaultRetention = 24 * time.Hour

type Sender interface {
	Send(ctx context.Context, req remote.Request) (remote.Response, error)
}

type ReplayerOptions struct {
	Retention time.Duration
	Bus       *events.Bus
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Replayer captures mutations that could not reach the story service and
// resends them in FIFO order once it is reachable again.
type Replayer struct {
	queue     Queue
	sender    Sender
	bus       *events.Bus
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	passMu  sync.Mutex
	trigger chan struct{}
}

type PassResult struct {
	Replayed  int
	Rejected  int
	Expired   int
	Remaining int
	// Blocked is set when the pass stopped at a head that is still unreachable.
	Blocked bool
}

func NewReplayer(queue Queue, sender Sender, opts ReplayerOptions) (*Replayer, error) {
	if queue == nil || sender == nil {
		return nil, story.ErrInvalidInput
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Replayer{
		queue:     queue,
		sender:    sender,
		bus:       opts.Bus,
		retention: retention,
		logger:    opts.Logger,
		now:       now,
		trigger:   make(chan struct{}, 1),
	}, nil
}

func (r *Replayer) Queue() Queue {
	return r.queue
}

// Capture stores req exactly as prepared. Only call it for requests that
// failed because the service was unreachable.
func (r *Replayer) Capture(ctx context.Context, req remote.Request, description string) (Record, error) {
	record, err := r.queue.Append(ctx, Record{
		Method:      req.Method,
		URL:         req.URL,
		Header:      req.Header.Clone(),
		Body:        append([]byte(nil), req.Body...),
		EnqueuedAt:  r.now().UTC(),
		Description: description,
	})
	if err != nil {
		return Record{}, fmt.Errorf("capture deferred mutation: %w", err)
	}
	capturedTotal.Inc()
	r.observeDepth(ctx)
	r.logger.Info().
		Str("record_id", record.ID.String()).
		Int64("seq", record.Seq).
		Str("method", record.Method).
		Str("url", record.URL).
		Msg("mutation deferred until the story service is reachable")
	if r.bus != nil {
		if err := r.bus.MutationDeferred.Publish(ctx, events.MutationDeferred{
			RecordID:    record.ID,
			Description: record.Description,
			EnqueuedAt:  record.EnqueuedAt,
		}); err != nil {
			r.logger.Warn().Err(err).Msg("publish mutation deferred")
		}
	}
	return record, nil
}

// Trigger requests a replay pass without blocking. Triggers that arrive while
// one is already pending collapse into it.
func (r *Replayer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// ReplayOnce drains the queue head-first until it is empty or the head is
// unreachable. Passes never overlap.
func (r *Replayer) ReplayOnce(ctx context.Context) (PassResult, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	result, err := r.replayLocked(ctx)
	if remaining, lenErr := r.queue.Len(ctx); lenErr == nil {
		result.Remaining = remaining
		queueDepth.Set(float64(remaining))
	}
	switch {
	case err != nil:
		passesTotal.WithLabelValues("error").Inc()
	case result.Blocked:
		passesTotal.WithLabelValues("blocked").Inc()
	default:
		passesTotal.WithLabelValues("drained").Inc()
	}
	return result, err
}

func (r *Replayer) replayLocked(ctx context.Context) (PassResult, error) {
	var result PassResult
	expired, err := r.prune(ctx)
	result.Expired = expired
	if err != nil {
		return result, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		record, ok, err := r.queue.Peek(ctx)
		if err != nil {
			return result, err
		}
		if !ok {
			return result, nil
		}
		if r.expired(record) {
			if err := r.drop(ctx, record); err != nil {
				return result, err
			}
			result.Expired++
			continue
		}

		_, sendErr := r.sender.Send(ctx, record.Request())
		var rejected *story.RejectedError
		switch {
		case sendErr == nil:
			if err := r.queue.Remove(ctx, record.ID); err != nil {
				return result, err
			}
			settledTotal.WithLabelValues("replayed").Inc()
			result.Replayed++
			r.logger.Info().Str("record_id", record.ID.String()).Int64("seq", record.Seq).Msg("deferred mutation replayed")
			if r.bus != nil {
				if err := r.bus.ReplaySucceeded.Publish(ctx, events.ReplaySucceeded{
					RecordID:    record.ID,
					Description: record.Description,
					EnqueuedAt:  record.EnqueuedAt,
					ReplayedAt:  r.now().UTC(),
				}); err != nil {
					return result, err
				}
			}
		case errors.Is(sendErr, story.ErrUnreachable):
			r.logger.Debug().Err(sendErr).Str("record_id", record.ID.String()).Msg("replay head still unreachable")
			result.Blocked = true
			return result, nil
		case errors.As(sendErr, &rejected):
			if err := r.queue.Remove(ctx, record.ID); err != nil {
				return result, err
			}
			settledTotal.WithLabelValues("rejected").Inc()
			result.Rejected++
			r.logger.Warn().
				Str("record_id", record.ID.String()).
				Int("status", rejected.StatusCode).
				Str("message", rejected.Message).
				Msg("deferred mutation rejected by the story service")
			if r.bus != nil {
				if err := r.bus.ReplayRejected.Publish(ctx, events.ReplayRejected{
					RecordID:    record.ID,
					Description: record.Description,
					StatusCode:  rejected.StatusCode,
					Message:     rejected.Message,
				}); err != nil {
					return result, err
				}
			}
		default:
			return result, sendErr
		}
	}
}

func (r *Replayer) expired(record Record) bool {
	return record.Age(r.now()) > r.retention
}

// prune discards records past the retention ceiling. No event is published
// for them.
func (r *Replayer) prune(ctx context.Context) (int, error) {
	records, err := r.queue.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, record := range records {
		if !r.expired(record) {
			continue
		}
		if err := r.drop(ctx, record); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Replayer) drop(ctx context.Context, record Record) error {
	if err := r.queue.Remove(ctx, record.ID); err != nil {
		return err
	}
	settledTotal.WithLabelValues("expired").Inc()
	r.logger.Debug().
		Str("record_id", record.ID.String()).
		Time("enqueued_at", record.EnqueuedAt).
		Msg("deferred mutation expired")
	return nil
}

func (r *Replayer) observeDepth(ctx context.Context) {
	if n, err := r.queue.Len(ctx); err == nil {
		queueDepth.Set(float64(n))
	}
}

// Run performs an initial pass and then one pass per trigger or per
// connectivity restoration until ctx is done.
func (r *Replayer) Run(ctx context.Context) error {
	var online <-chan events.ConnectivityChanged
	if r.bus != nil {
		ch, cancel := r.bus.ConnectivityChanged.Subscribe()
		defer cancel()
		online = ch
	}
	r.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
			r.runPass(ctx)
		case change, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if change.Online {
				r.runPass(ctx)
			}
		}
	}
}

func (r *Replayer) runPass(ctx context.Context) {
	result, err := r.ReplayOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("replay pass failed")
		}
		return
	}
	if result.Replayed+result.Rejected+result.Expired > 0 || result.Blocked {
		r.logger.Info().
			Int("replayed", result.Replayed).
			Int("rejected", result.Rejected).
			Int("expired", result.Expired).
			Int("remaining", result.Remaining).
			Bool("blocked", result.Blocked).
			Msg("replay pass finished")
	}
}
