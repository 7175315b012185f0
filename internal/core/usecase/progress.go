package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
)

// ProgressObserver receives aggregator activity for metrics.
type ProgressObserver interface {
	SetTrackedDocuments(n int)
	SetPollLoopRunning(running bool)
	ObservePoll(outcome string)
	ObserveTerminal(state domain.ProgressState)
}

type ProgressOptions struct {
	Interval    time.Duration
	Concurrency int
	PollTimeout time.Duration
	Logger      *slog.Logger
	Observer    ProgressObserver
	// OnTerminal is called once, outside the store lock, with the last known
	// snapshot of a document that reached completed or error.
	OnTerminal func(domain.TrackedDocument)
	Now        func() time.Time
}

// ProgressAggregator owns the tracked document store and the one polling loop
// serving all of it. The loop runs iff the store is non-empty.
type ProgressAggregator struct {
	source      ports.ProgressSource
	interval    time.Duration
	concurrency int
	pollTimeout time.Duration
	logger      *slog.Logger
	observer    ProgressObserver
	onTerminal  func(domain.TrackedDocument)
	now         func() time.Time

	mu         sync.Mutex
	docs       map[string]trackedEntry
	generation uint64
	running    bool
	stop       chan struct{}
	closed     bool
	wg         sync.WaitGroup
}

// trackedEntry tags a document with the BeginTracking call that added it, so
// a poll started for an earlier tracking of the same id is discarded.
type trackedEntry struct {
	doc        domain.TrackedDocument
	generation uint64
}

type pollTarget struct {
	documentID string
	generation uint64
}

func NewProgressAggregator(source ports.ProgressSource, opts ProgressOptions) *ProgressAggregator {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopProgressObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProgressAggregator{
		source:      source,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		pollTimeout: opts.PollTimeout,
		logger:      opts.Logger,
		observer:    opts.Observer,
		onTerminal:  opts.OnTerminal,
		now:         opts.Now,
		docs:        make(map[string]trackedEntry),
	}
}

func (a *ProgressAggregator) BeginTracking(documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrValidation, "begin tracking", errors.New("document id is required"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return domain.WrapError(domain.ErrClosed, "begin tracking", errors.New("progress aggregator is closed"))
	}
	if _, ok := a.docs[documentID]; ok {
		return nil
	}
	a.generation++
	a.docs[documentID] = trackedEntry{
		doc: domain.TrackedDocument{
			DocumentID:    documentID,
			State:         domain.ProgressInitiating,
			Stage:         string(domain.ProgressInitiating),
			LastUpdatedAt: a.now().UTC(),
		},
		generation: a.generation,
	}
	a.logger.Info("progress_tracking_started", "document_id", documentID)
	a.syncLoopLocked()
	return nil
}

// EndTracking drops a document whatever its state. A poll already in flight
// for it is discarded when it returns.
func (a *ProgressAggregator) EndTracking(documentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.docs[documentID]; !ok {
		return
	}
	delete(a.docs, documentID)
	a.logger.Info("progress_tracking_ended", "document_id", documentID)
	a.syncLoopLocked()
}

func (a *ProgressAggregator) Snapshot() map[string]domain.TrackedDocument {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]domain.TrackedDocument, len(a.docs))
	for id, entry := range a.docs {
		out[id] = entry.doc
	}
	return out
}

func (a *ProgressAggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Close stops the loop and refuses further tracking.
func (a *ProgressAggregator) Close() {
	a.mu.Lock()
	a.closed = true
	if a.running {
		a.stopLoopLocked()
	}
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *ProgressAggregator) syncLoopLocked() {
	a.observer.SetTrackedDocuments(len(a.docs))
	switch {
	case len(a.docs) > 0 && !a.running && !a.closed:
		a.startLoopLocked()
	case len(a.docs) == 0 && a.running:
		a.stopLoopLocked()
	}
}

func (a *ProgressAggregator) startLoopLocked() {
	stop := make(chan struct{})
	a.stop = stop
	a.running = true
	a.observer.SetPollLoopRunning(true)

	a.wg.Add(1)
	go a.run(stop)
}

func (a *ProgressAggregator) stopLoopLocked() {
	close(a.stop)
	a.stop = nil
	a.running = false
	a.observer.SetPollLoopRunning(false)
}

func (a *ProgressAggregator) run(stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *ProgressAggregator) tick(ctx context.Context) {
	targets := a.pollTargets()
	if len(targets) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, target := range targets {
		g.Go(func() error {
			a.pollOne(gctx, target)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *ProgressAggregator) pollTargets() []pollTarget {
	a.mu.Lock()
	defer a.mu.Unlock()

	targets := make([]pollTarget, 0, len(a.docs))
	for id, entry := range a.docs {
		targets = append(targets, pollTarget{documentID: id, generation: entry.generation})
	}
	return targets
}

func (a *ProgressAggregator) pollOne(ctx context.Context, target pollTarget) {
	pollCtx, cancel := context.WithTimeout(ctx, a.pollTimeout)
	defer cancel()

	report, err := a.source.FetchProgress(pollCtx, target.documentID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.observer.ObservePoll("error")
		a.logger.Warn("progress_poll_failed", "document_id", target.documentID, "error", err)
		return
	}

	if finished, ok := a.apply(target, report); ok && a.onTerminal != nil {
		a.onTerminal(finished)
	}
}

// apply stores a poll result unless the entry was replaced since the poll
// started, and reports the final snapshot when the document reached a
// terminal state.
func (a *ProgressAggregator) apply(target pollTarget, report domain.ProgressReport) (domain.TrackedDocument, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	documentID := target.documentID
	entry, ok := a.docs[documentID]
	if !ok || entry.generation != target.generation {
		a.observer.ObservePoll("discarded")
		return domain.TrackedDocument{}, false
	}
	doc := entry.doc
	a.observer.ObservePoll("success")

	doc.State = report.State
	doc.ProgressPercent = domain.ClampPercent(report.ProgressPercent)
	doc.Message = report.Message
	doc.Stage = report.Stage
	if doc.Stage == "" {
		doc.Stage = string(report.State)
	}
	doc.LastUpdatedAt = a.now().UTC()

	if report.State.Terminal() {
		delete(a.docs, documentID)
		a.observer.ObserveTerminal(report.State)
		a.logger.Info("progress_tracking_finished",
			"document_id", documentID,
			"state", string(report.State),
			"message", report.Message,
		)
		a.syncLoopLocked()
		return doc, true
	}

	entry.doc = doc
	a.docs[documentID] = entry
	return domain.TrackedDocument{}, false
}

type nopProgressObserver struct{}

func (nopProgressObserver) SetTrackedDocuments(int) {}
func (nopProgressObserver) SetPollLoopRunning(bool) {}
func (nopProgressObserver) ObservePoll(string) {}
func (nopProgressObserver) ObserveTerminal(domain.ProgressState) {}
