package scheduler

import (
	"context"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/aggregator"
	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Cycle results reported to the Recorder.
const (
	resultPublished = "published"
	resultFailed    = "failed"
	resultDiscarded = "discarded"
)

// loop runs one station: an immediate first cycle, then one cycle per interval and
// a re-render from the cache on every render tick in between.
func (s *Scheduler) loop(ctx context.Context, st *station) {
	s.cycle(ctx, st)
	timer := time.NewTimer(s.arm(st))
	defer timer.Stop()
	render := time.NewTicker(s.opts.RenderInterval)
	defer render.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.reset:
			timer.Reset(s.arm(st))
		case <-st.trigger:
			s.cycle(ctx, st)
			timer.Reset(s.arm(st))
		case <-timer.C:
			s.cycle(ctx, st)
			timer.Reset(s.arm(st))
		case <-render.C:
			s.rerender(ctx, st)
		}
	}
}

// rerender republishes the station from its snapshot without fetching, so that
// countdowns, the next departure and message validity follow the clock.
func (s *Scheduler) rerender(ctx context.Context, st *station) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return
	}
	s.publishLocked(ctx, st)
}

// arm records the next refresh time and returns the delay until then.
func (s *Scheduler) arm(st *station) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.NextRefresh = s.now().Add(st.cfg.Interval)
	return st.cfg.Interval
}

// cycle performs Fetching -> (Published | FetchFailed) for one station.
func (s *Scheduler) cycle(ctx context.Context, st *station) {
	st.mu.Lock()
	if st.removed {
		st.mu.Unlock()
		return
	}
	cfg := st.cfg
	gen := st.generation
	start := s.now()
	messagesDue := st.messagesFetchedAt.IsZero() || start.Sub(st.messagesFetchedAt) >= s.opts.MessagesInterval
	st.status.Phase = PhaseFetching
	st.status.LastAttempt = start
	st.mu.Unlock()

	id := cfg.Station.ID
	limit := cfg.Limit
	if limit < s.opts.FetchLimit {
		limit = s.opts.FetchLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	deps, err := s.provider.FetchDepartures(fetchCtx, id, limit)
	var msgs []transit.Message
	var msgErr error
	if err == nil && messagesDue {
		msgs, msgErr = s.provider.FetchMessages(fetchCtx, id)
	}
	cancel()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Phase = PhaseIdle
	st.status.Cycles++

	if st.removed || st.generation != gen || ctx.Err() != nil {
		s.logger.Debug("discarding result for removed station", "station", id)
		s.recorder.Cycle(id, resultDiscarded, st.status.ConsecutiveFailures, st.status.Stale)
		return
	}

	if err != nil {
		st.status.ConsecutiveFailures++
		st.status.LastError = err.Error()
		st.status.LastErrorKind = transit.Classify(err)
		st.status.Stale = st.status.ConsecutiveFailures >= s.opts.StaleAfterFailures
		s.logger.Warn("refresh failed",
			"station", id,
			"kind", st.status.LastErrorKind,
			"failures", st.status.ConsecutiveFailures,
			"stale", st.status.Stale,
			"error", err)
		s.recorder.Cycle(id, resultFailed, st.status.ConsecutiveFailures, st.status.Stale)
		s.publishLocked(ctx, st)
		return
	}

	fetchedAt := s.now()
	switch {
	case messagesDue && msgErr == nil:
		s.cache.Store(id, deps, msgs, fetchedAt)
		st.messagesFetchedAt = fetchedAt
	default:
		if msgErr != nil {
			s.logger.Warn("message refresh failed, keeping previous messages", "station", id, "error", msgErr)
		}
		s.cache.StoreDepartures(id, deps, fetchedAt)
	}

	st.status.ConsecutiveFailures = 0
	st.status.LastError = ""
	st.status.LastErrorKind = ""
	st.status.Stale = false
	st.status.LastSuccess = fetchedAt
	s.recorder.Success(id, fetchedAt, len(deps))
	s.recorder.Cycle(id, resultPublished, 0, false)
	s.logger.Debug("refresh complete", "station", id, "departures", len(deps),
		"messages_refreshed", messagesDue && msgErr == nil, "took", fetchedAt.Sub(start))
	s.publishLocked(ctx, st)
}

// publishLocked republishes the station's entities from the current snapshot. A
// snapshot older than the station's max age turns the station stale. The caller
// holds st.mu.
func (s *Scheduler) publishLocked(ctx context.Context, st *station) {
	id := st.cfg.Station.ID
	snap, ok := s.cache.Read(id)
	if ok && snap.StaleAt(s.now(), st.cfg.MaxAge(s.opts.StaleAfterFailures)) && !st.status.Stale {
		st.status.Stale = true
		s.logger.Warn("snapshot outdated", "station", id, "age", snap.Age(s.now()))
	}
	vs := aggregator.Aggregate(snap, st.cfg.Selectors, st.cfg.Limit)
	health := entity.Health{
		Stale:               st.status.Stale,
		ConsecutiveFailures: st.status.ConsecutiveFailures,
		LastError:           st.status.LastError,
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	changed, err := s.entities.PublishViews(ctx, id, vs, health)
	if err != nil {
		s.logger.Warn("publishing entities failed", "station", id, "error", err)
	}
	s.recorder.Published(id, changed, len(s.entities.Bindings(id)))
}
