package teamsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPassTimeout bounds a background drain pass.
const DefaultPassTimeout = 30 * time.Second

// Connectivity reports whether the remote store is believed reachable.
type Connectivity interface {
	Online() bool
}

// DrainerConfig configures a Drainer.
type DrainerConfig struct {
	// MaxRetries is the failure count at which an entry is discarded.
	// Zero means DefaultMaxRetries.
	MaxRetries int

	// PassTimeout bounds passes started by Trigger. Zero means DefaultPassTimeout.
	PassTimeout time.Duration

	Logger *slog.Logger
}

// Drainer delivers queued mutations to the remote store in FIFO order.
type Drainer struct {
	queue  *Queue
	remote RemoteStore
	conn   Connectivity
	logger *slog.Logger

	maxRetries  int
	passTimeout time.Duration

	// passMu serializes drain passes.
	passMu   sync.Mutex
	draining atomic.Bool

	bgMu    sync.Mutex
	pending bool
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// NewDrainer creates a drainer. A nil remote makes every pass fail with
// ErrNotConfigured; a nil conn is treated as always online.
func NewDrainer(queue *Queue, remote RemoteStore, conn Connectivity, cfg DrainerConfig) *Drainer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = DefaultPassTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Drainer{
		queue:       queue,
		remote:      remote,
		conn:        conn,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		passTimeout: cfg.PassTimeout,
	}
}

// Syncing reports whether a pass is in progress.
func (d *Drainer) Syncing() bool {
	return d.draining.Load()
}

// TryDrain runs a pass unless the connectivity monitor reports offline, in
// which case it returns a result with Skipped set.
func (d *Drainer) TryDrain(ctx context.Context) (DrainResult, error) {
	if d.conn != nil && !d.conn.Online() {
		return DrainResult{Skipped: true}, nil
	}
	return d.Drain(ctx)
}

// Drain attempts delivery of every queued entry, oldest first. It performs
// no connectivity check; callers go through TryDrain.
//
// A failed entry stays queued with its retry count incremented and is
// discarded once the count reaches the retry ceiling. One failing entry
// never blocks the entries behind it. The returned error reports local
// store failures and cancellation only.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	d.draining.Store(true)
	defer d.draining.Store(false)

	var res DrainResult
	if d.remote == nil {
		return res, ErrNotConfigured
	}

	entries, err := d.queue.Entries(ctx)
	if err != nil {
		return res, err
	}

	delivered := make(map[string]struct{})
	defer func() {
		if len(delivered) == 0 {
			return
		}
		collections := make([]string, 0, len(delivered))
		for c := range delivered {
			collections = append(collections, c)
		}
		// Recorded even when the pass was cancelled part way.
		if err := d.queue.store.SetLastSynced(context.WithoutCancel(ctx), time.Now().UTC(), collections...); err != nil {
			d.logger.Warn("record last sync failed", "error", err)
		}
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if e.Operation == OpDelete {
			if err := d.queue.Remove(ctx, e.Seq); err != nil {
				return res, err
			}
			d.logger.Debug("dropped delete entry without remote call",
				"seq", e.Seq, "collection", e.Collection, "document_id", e.DocumentID)
			continue
		}

		res.Attempted++
		err := d.deliver(ctx, e)
		if err == nil {
			if err := d.queue.Remove(ctx, e.Seq); err != nil {
				return res, err
			}
			res.Delivered++
			delivered[e.Collection] = struct{}{}
			d.logger.Debug("delivered mutation",
				"seq", e.Seq, "collection", e.Collection, "document_id", e.DocumentID, "operation", e.Operation)
			continue
		}

		// An attempt abandoned by our own cancellation is not the entry's fault.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		res.Failed++
		count, found, rerr := d.queue.RecordFailure(ctx, e.Seq)
		if rerr != nil {
			return res, rerr
		}
		if !found {
			continue
		}
		if count >= d.maxRetries {
			if err := d.queue.Remove(ctx, e.Seq); err != nil {
				return res, err
			}
			res.Discarded++
			d.logger.Error("discarded mutation after retry ceiling",
				"seq", e.Seq,
				"collection", e.Collection,
				"document_id", e.DocumentID,
				"operation", e.Operation,
				"retries", count,
				"error", err)
			continue
		}
		d.logger.Warn("delivery failed",
			"seq", e.Seq,
			"collection", e.Collection,
			"document_id", e.DocumentID,
			"operation", e.Operation,
			"retries", count,
			"error", err)
	}

	return res, nil
}

func (d *Drainer) deliver(ctx context.Context, e QueueEntry) error {
	rec := e.Record()
	switch e.Operation {
	case OpCreate:
		return d.remote.CreateDocument(ctx, e.Collection, rec)
	default:
		return d.remote.UpdateDocument(ctx, e.Collection, rec)
	}
}

// Trigger schedules a background pass and returns immediately. Triggers that
// arrive while a pass is running coalesce into a single follow-up pass.
func (d *Drainer) Trigger() {
	d.bgMu.Lock()
	defer d.bgMu.Unlock()

	if d.stopped {
		return
	}
	d.pending = true
	if d.running {
		return
	}
	d.running = true
	d.wg.Add(1)
	go d.background()
}

func (d *Drainer) background() {
	defer d.wg.Done()
	for {
		d.bgMu.Lock()
		if !d.pending {
			d.running = false
			d.bgMu.Unlock()
			return
		}
		d.pending = false
		d.bgMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.passTimeout)
		res, err := d.TryDrain(ctx)
		cancel()
		switch {
		case err != nil:
			d.logger.Warn("background drain failed", "error", err)
		case res.Attempted > 0:
			d.logger.Info("drain pass complete",
				"attempted", res.Attempted,
				"delivered", res.Delivered,
				"failed", res.Failed,
				"discarded", res.Discarded)
		}
	}
}

// Wait blocks until background passes started by Trigger have finished.
func (d *Drainer) Wait() {
	d.wg.Wait()
}

// Stop disables Trigger and waits for background passes to finish.
func (d *Drainer) Stop() {
	d.bgMu.Lock()
	d.stopped = true
	d.bgMu.Unlock()
	d.wg.Wait()
}
