package session

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/heimdex/heimdex-intel/internal/logging"
)

const (
	DefaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Registry holds independent sessions keyed by ID. A session that is not
// looked up for the idle TTL is evicted and closed.
type Registry struct {
	opts   Options
	cache  *cache.Cache
	logger *slog.Logger

	sweepEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewRegistry creates a registry whose controllers are built from opts.
// Close must be called to stop the expiry sweeper.
func NewRegistry(opts Options, idleTTL time.Duration) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}

	sweep := defaultSweepInterval
	if idleTTL/2 < sweep {
		sweep = idleTTL / 2
	}

	r := &Registry{
		opts: opts,
		// Expired entries are swept by our own goroutine so Close can stop it.
		cache:      cache.New(idleTTL, 0),
		logger:     opts.Logger,
		sweepEvery: sweep,
		done:       make(chan struct{}),
	}
	r.cache.OnEvicted(r.onEvicted)

	r.wg.Add(1)
	go r.sweep()
	return r
}

func (r *Registry) sweep() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cache.DeleteExpired()
		}
	}
}

func (r *Registry) onEvicted(id string, v interface{}) {
	if ctrl, ok := v.(*Controller); ok {
		ctrl.Close()
	}
	r.logger.Info("session evicted", "session_id", id)
	r.opts.Recorder.SessionsActive(r.cache.ItemCount())
}

// Create starts a new idle session.
func (r *Registry) Create() *Controller {
	id := uuid.NewString()
	opts := r.opts
	opts.Logger = logging.WithSessionID(r.logger, id)

	ctrl := NewController(id, opts)
	r.cache.SetDefault(id, ctrl)
	r.opts.Recorder.SessionsActive(r.cache.ItemCount())
	r.logger.Info("session created", "session_id", id)
	return ctrl
}

// Get returns the session and extends its idle deadline.
func (r *Registry) Get(id string) (*Controller, error) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	ctrl := v.(*Controller)
	if !r.touch(id, ctrl) {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// touch extends the idle deadline of a session that is still registered.
// An entry evicted or deleted since the lookup is never put back.
func (r *Registry) touch(id string, ctrl *Controller) bool {
	return r.cache.Replace(id, ctrl, cache.DefaultExpiration) == nil
}

// Delete closes and forgets the session.
func (r *Registry) Delete(id string) error {
	if _, ok := r.cache.Get(id); !ok {
		return ErrSessionNotFound
	}
	r.cache.Delete(id)
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close stops the sweeper and closes every session.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.cache.DeleteExpired()
		for id := range r.cache.Items() {
			r.cache.Delete(id)
		}
	})
}
