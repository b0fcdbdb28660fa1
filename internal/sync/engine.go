package sync

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crateio/carrier/internal/metrics"
	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/release"
	"github.com/crateio/carrier/internal/store"
)

// ErrNoCursor is returned when the sync cursor has never been written. The
// initial bulk import establishes it; until then the engine refuses to run.
var ErrNoCursor = errors.New("cannot process changes with no value for the last successful run")

// rewind is subtracted from the cursor on every tick. It absorbs clock
// skew between the engine and the index and re-emits entries that tied the
// previous cursor; the entry markers make the overlap idempotent.
const rewind = 10

// LastModifiedNotifier reports a completed pass to the warehouse so it can
// track its own freshness watermark.
type LastModifiedNotifier interface {
	NotifyLastModified(ctx context.Context, at time.Time) error
}

// Engine runs synchronization ticks. One tick reads the cursor, fetches
// the changelog window, routes each unprocessed entry, and advances the
// cursor. Ticks must not run concurrently; the scheduler is non-reentrant.
type Engine struct {
	store      *store.Store
	index      Index
	dispatcher *Dispatcher
	notifier   LastModifiedNotifier
	metrics    *metrics.Metrics
}

// NewEngine wires an Engine. notifier may be nil when the warehouse has no
// freshness endpoint.
func NewEngine(st *store.Store, index Index, dispatcher *Dispatcher, notifier LastModifiedNotifier, m *metrics.Metrics) *Engine {
	return &Engine{store: st, index: index, dispatcher: dispatcher, notifier: notifier, metrics: m}
}

// markerDigest derives the dedup identity of a changelog entry. An absent
// version renders as the literal "None" so digests line up with markers
// written by earlier deployments of the synchronizer.
func markerDigest(ch pypi.Change) string {
	version := ch.Version
	if version == "" {
		version = "None"
	}
	identity := strings.Join([]string{
		ch.Name,
		version,
		strconv.FormatInt(ch.Timestamp, 10),
		ch.Action,
	}, ":")
	return release.Digest([]byte(identity))
}

// Tick runs one synchronization pass. Per-entry failures are logged and
// skipped (their markers stay unwritten, so a later tick retries them);
// the cursor advances only when the full window has been walked.
func (e *Engine) Tick(ctx context.Context) error {
	started := time.Now()
	tickID := uuid.NewString()

	logger := log.With().Str("tick_id", tickID).Logger()
	logger.Info().Msg("starting changed projects synchronization")

	sinceVal, ok, err := e.store.Since(ctx)
	if err != nil {
		e.metrics.TickFailures.Inc()
		return err
	}
	if !ok {
		e.metrics.TickFailures.Inc()
		return ErrNoCursor
	}

	// Captured before any work, without sub-second precision: this becomes
	// the cursor once the window is processed.
	now := time.Now().UTC().Truncate(time.Second)
	since := int64(sinceVal) - rewind

	changes, err := e.index.Changelog(ctx, since)
	if err != nil {
		e.metrics.TickFailures.Inc()
		return err
	}

	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			// Abandoned mid-tick: markers written so far are durable and
			// the cursor stays put, so a re-run covers the remainder.
			e.metrics.TickFailures.Inc()
			return err
		}

		entry := logger.With().
			Str("name", ch.Name).Str("version", ch.Version).
			Int64("timestamp", ch.Timestamp).Str("action", ch.Action).
			Logger()

		digest := markerDigest(ch)

		seen, err := e.store.HasMarker(ctx, digest)
		if err != nil {
			e.metrics.TickFailures.Inc()
			return err
		}
		if seen {
			entry.Debug().Msg("skipping already processed entry")
			e.metrics.Entries.WithLabelValues(metrics.OutcomeSkipped).Inc()
			continue
		}

		entry.Debug().Msg("processing entry")

		matched, err := e.dispatcher.Dispatch(ctx, ch)
		if err != nil {
			// One bad release must not poison the batch. No marker: the
			// next tick's rewind window retries this entry.
			entry.Error().Err(err).Msg("entry failed")
			var hashErr *pypi.HashMismatchError
			if errors.As(err, &hashErr) {
				e.metrics.HashMismatches.Inc()
			}
			e.metrics.Entries.WithLabelValues(metrics.OutcomeFailed).Inc()
			continue
		}
		if !matched {
			entry.Debug().Msg("ignoring unhandled action")
			e.metrics.Entries.WithLabelValues(metrics.OutcomeIgnored).Inc()
			continue
		}

		if err := e.store.SetMarker(ctx, digest); err != nil {
			e.metrics.TickFailures.Inc()
			return err
		}
		e.metrics.Entries.WithLabelValues(metrics.OutcomeProcessed).Inc()
	}

	// Tell the warehouse the pass completed before persisting the cursor:
	// if the notification fails, the cursor stays put and the whole window
	// is re-walked, which the markers make idempotent.
	if e.notifier != nil {
		if err := e.notifier.NotifyLastModified(ctx, now); err != nil {
			e.metrics.TickFailures.Inc()
			return err
		}
	}

	if err := e.store.SetSince(ctx, now); err != nil {
		e.metrics.TickFailures.Inc()
		return err
	}

	e.metrics.Ticks.Inc()
	e.metrics.TickDuration.Observe(time.Since(started).Seconds())
	e.metrics.RecordTick(tickID, now, len(changes))

	logger.Info().Int("entries", len(changes)).Msg("finished changed projects synchronization")
	return nil
}
