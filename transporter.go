package telemdb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSyncBatchSize = 100
	DefaultSyncBackoff   = 30 * time.Second
)

// TransporterState is the run state of a Transporter.
type TransporterState int

const (
	Stopped TransporterState = iota
	Running
)

func (s TransporterState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// TransporterConfig configures a Transporter.
type TransporterConfig struct {
	// BatchSize is the number of keys whose hashes are compared per request.
	BatchSize int
	// Backoff is the delay between passes, and after a failed pass.
	Backoff time.Duration
	// DeleteAfterTransfer removes source records which are present in the
	// destination with an equal hash.
	DeleteAfterTransfer bool
}

// PassStats summarizes one synchronization pass.
type PassStats struct {
	Keys        int
	Transferred int
	Pruned      int
}

// Transporter reconciles the records of one Store into another, in the
// background, by comparing content hashes of batches of keys. Records whose
// hash differs (or which are absent in the destination) are copied. Failures
// are logged and the pass retried after the backoff; they're never returned
// to callers of Start or Stop.
type Transporter struct {
	from, to Store
	cfg      TransporterConfig

	mu     sync.Mutex
	state  TransporterState
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTransporter returns a stopped Transporter of from into to, which
// must be different stores.
func NewTransporter(from, to Store, cfg TransporterConfig) (*Transporter, error) {
	if from == nil || to == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "transporter requires two stores")
	} else if baseStore(from) == baseStore(to) {
		return nil, errors.Wrap(ErrInvalidArgument, "transporter source and destination are the same store")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultSyncBatchSize
	} else if cfg.BatchSize < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "batch size %d", cfg.BatchSize)
	}
	if cfg.Backoff < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "backoff %s", cfg.Backoff)
	}
	return &Transporter{from: from, to: to, cfg: cfg}, nil
}

func (t *Transporter) State() TransporterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start launches the background worker, if not already Running. Store
// operations of the worker use ctx.
func (t *Transporter) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Running {
		return
	}
	t.state = Running
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	log.WithFields(log.Fields{
		"batchSize": t.cfg.BatchSize,
		"backoff":   t.cfg.Backoff,
		"delete":    t.cfg.DeleteAfterTransfer,
	}).Info("starting store transporter")

	go t.serve(ctx, t.stopCh, t.doneCh)
}

// Stop signals the worker to exit once its current pass completes, and
// waits for it to do so.
func (t *Transporter) Stop() {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.state = Stopped
	t.mu.Unlock()

	close(stopCh)
	<-doneCh
	log.Info("stopped store transporter")
}

func (t *Transporter) serve(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		// The worker may exit on cancellation of ctx, without a Stop.
		t.mu.Lock()
		if t.doneCh == doneCh {
			t.state = Stopped
		}
		t.mu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if stats, err := t.RunPass(ctx); err != nil {
			log.WithField("err", err).Warn("store transport pass failed (will retry)")
		} else if stats.Transferred != 0 || stats.Pruned != 0 {
			log.WithFields(log.Fields{
				"keys":        stats.Keys,
				"transferred": stats.Transferred,
				"pruned":      stats.Pruned,
			}).Info("completed store transport pass")
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.Backoff):
		}
	}
}

// RunPass runs one synchronization pass over every key of the source,
// abandoning the pass at the first failure.
func (t *Transporter) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats
	batch := make([]Key, 0, t.cfg.BatchSize)

	err := t.from.Keys(ctx, func(key Key) error {
		stats.Keys++
		if batch = append(batch, key); len(batch) == t.cfg.BatchSize {
			err := t.transferBatch(ctx, batch, &stats)
			batch = batch[:0]
			return err
		}
		return nil
	})
	if err == nil && len(batch) != 0 {
		err = t.transferBatch(ctx, batch, &stats)
	}

	if err != nil {
		syncPassesTotal.WithLabelValues(outcomeFail).Inc()
		return stats, err
	}
	syncPassesTotal.WithLabelValues(outcomeOk).Inc()
	return stats, nil
}

func (t *Transporter) transferBatch(ctx context.Context, batch []Key, stats *PassStats) error {
	var fromHashes, toHashes map[Key]string
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() (err error) {
		fromHashes, err = t.from.Hashes(groupCtx, batch)
		return errors.WithMessage(err, "source hashes")
	})
	group.Go(func() (err error) {
		toHashes, err = t.to.Hashes(groupCtx, batch)
		return errors.WithMessage(err, "destination hashes")
	})
	if err := group.Wait(); err != nil {
		return err
	}

	for _, key := range batch {
		fromHash, ok := fromHashes[key]
		if !ok {
			continue // Deleted since it was listed.
		}
		if toHash, ok := toHashes[key]; !ok || toHash != fromHash {
			value, err := t.from.Read(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				return storeErr("read", key, err)
			}
			if err = t.to.Write(ctx, key, value); err != nil {
				return storeErr("write", key, err)
			}
			stats.Transferred++
			syncTransferredTotal.Inc()
		} else if t.cfg.DeleteAfterTransfer {
			if err := t.from.Delete(ctx, key); err != nil {
				return storeErr("delete", key, err)
			}
			stats.Pruned++
			syncPrunedTotal.Inc()
		}
	}
	return nil
}
