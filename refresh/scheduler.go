// Package refresh keeps the cached map up to date.
package refresh

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JiscSD/lightning-observation-map/bucket"
	"github.com/JiscSD/lightning-observation-map/cache"
	"github.com/JiscSD/lightning-observation-map/feed"
	"github.com/JiscSD/lightning-observation-map/kml"
	"github.com/JiscSD/lightning-observation-map/render"

	"github.com/cenkalti/backoff/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the wait between the end of a cycle and the start of
// the next one.
const DefaultInterval = time.Hour

// DefaultPublishTimeout bounds each publisher call.
const DefaultPublishTimeout = time.Minute

// Renderer turns bucketed points into an artifact, nil meaning nothing to
// draw.
type Renderer interface {
	Render(points []bucket.BucketedPoint) (*render.Artifact, error)
}

// Publisher receives every artifact stored in the cache.
type Publisher interface {
	Publish(ctx context.Context, cycle string, a *render.Artifact) error
}

// Scheduler runs refresh cycles on a fixed interval and is the only writer of
// the cache store.
//
// A cycle fetches the archive, extracts the KML document, parses and buckets
// the observations and renders the map. Any error aborts that cycle only: it
// is logged and the previous artifact stays in the store. An empty render
// also leaves the store untouched.
type Scheduler struct {
	logger         logrus.FieldLogger
	fetcher        feed.Fetcher
	renderer       Renderer
	store          *cache.Store
	publishers     []Publisher
	publishTimeout time.Duration
	policy         backoff.BackOff
	metrics        *Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	refreshCh chan struct{}
	stopCh    chan chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets a constant wait between cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.policy = backoff.NewConstantBackOff(d)
	}
}

// WithPolicy sets the wait policy. backoff.Stop ends the schedule, manual
// refreshes are still served afterwards.
func WithPolicy(b backoff.BackOff) Option {
	return func(s *Scheduler) {
		s.policy = b
	}
}

// WithPublishers adds publishers run after each cache update.
func WithPublishers(p ...Publisher) Option {
	return func(s *Scheduler) {
		s.publishers = append(s.publishers, p...)
	}
}

// WithPublishTimeout bounds each publisher call so a stalled upload cannot
// hold up the schedule.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.publishTimeout = d
	}
}

// WithMetrics sets the collectors updated by the scheduler.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New returns a scheduler. It does nothing until Run is called.
func New(logger logrus.FieldLogger, fetcher feed.Fetcher, renderer Renderer, store *cache.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:         logger,
		fetcher:        fetcher,
		renderer:       renderer,
		store:          store,
		policy:         backoff.NewConstantBackOff(DefaultInterval),
		publishTimeout: DefaultPublishTimeout,
		metrics:        NewMetrics(),
		refreshCh:      make(chan struct{}),
		stopCh:         make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Run starts with an immediate cycle and blocks until Stop is called.
func (s *Scheduler) Run() {
	s.policy.Reset()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case ch := <-s.stopCh:
			close(ch)
			return
		case <-timer.C:
		case <-s.refreshCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		s.refresh()
		next := s.policy.NextBackOff()
		if next == backoff.Stop {
			s.logger.Warn("Refresh schedule exhausted, waiting for manual refreshes")
			continue
		}
		s.logger.WithField("in", next.String()).Info("Next refresh scheduled")
		timer.Reset(next)
	}
}

// Refresh is a non-blocking request to start a cycle now. The request is
// dropped if a cycle is already running.
func (s *Scheduler) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
		s.logger.Warn("Refreshing cached map")
	default:
		s.logger.Warn("The cached map is currently being refreshed")
	}
}

// Stop cancels the running cycle, if any, and blocks until Run returns.
func (s *Scheduler) Stop() {
	s.cancel()
	ch := make(chan struct{})
	s.stopCh <- ch
	<-ch
}

// Cycle runs the pipeline once without touching the store.
func (s *Scheduler) Cycle(ctx context.Context) (*render.Artifact, error) {
	archive, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	markup, err := feed.Extract(archive)
	if err != nil {
		return nil, err
	}
	records, err := kml.Parse(markup)
	if err != nil {
		return nil, err
	}
	a, err := s.renderer.Render(bucket.Bucket(records))
	if err != nil {
		return nil, errors.Wrap(err, "map rendering failed")
	}
	return a, nil
}

// refresh runs one cycle and updates the store when it produced an artifact.
func (s *Scheduler) refresh() {
	cycle := uuid.New().String()
	logger := s.logger.WithField("cycle", cycle)
	logger.Info("Updating cached map...")

	start := time.Now()
	a, err := s.safeCycle()
	s.metrics.Duration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Cycles.WithLabelValues(resultFailure).Inc()
		logger.WithError(err).Error("Cached map update failed")
		return
	}
	if a == nil {
		s.metrics.Cycles.WithLabelValues(resultEmpty).Inc()
		logger.Warn("Feed has no observations, keeping the current map")
		return
	}

	s.store.Set(a)
	s.metrics.Cycles.WithLabelValues(resultSuccess).Inc()
	s.metrics.Generated.Set(float64(a.GeneratedAt.Unix()))
	s.metrics.Points.Set(float64(a.Points))
	logger.WithFields(logrus.Fields{
		"generatedAt": a.GeneratedAt.Format("2006-01-02 15:04:05"),
		"points":      a.Points,
	}).Info("Cached map updated")

	for _, p := range s.publishers {
		ctx, cancel := context.WithTimeout(s.ctx, s.publishTimeout)
		err := p.Publish(ctx, cycle, a)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Artifact could not be published")
		}
	}
}

// safeCycle runs the cycle in panic recovery mode.
func (s *Scheduler) safeCycle() (a *render.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("refresh cycle panic! %s %s", r, debug.Stack())
		}
	}()
	return s.Cycle(s.ctx)
}
