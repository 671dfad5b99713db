package frame

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type RegistryConfig struct {
	Store             StoreConfig
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	Logger            *slog.Logger
}

// Registry maps client identifiers to their frame stores. A store is created
// on the first frame from a new client and reclaimed after the inactivity
// timeout. A late append racing teardown simply recreates the store, which
// behaves like a brand-new client.
type Registry struct {
	storeCfg StoreConfig
	timeout  time.Duration
	sweep    time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	stores   map[string]*Store
	onCreate func(clientID string)
	onRemove func(clientID string)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		storeCfg: cfg.Store,
		timeout:  cfg.InactivityTimeout,
		sweep:    cfg.SweepInterval,
		logger:   cfg.Logger.With("component", "frame-registry"),
		stores:   make(map[string]*Store),
	}
}

// OnCreate registers a hook fired whenever a store is created for a new
// client. Must be set before frames start flowing.
func (r *Registry) OnCreate(fn func(clientID string)) {
	r.mu.Lock()
	r.onCreate = fn
	r.mu.Unlock()
}

// OnRemove registers a hook fired after an inactive store is reclaimed.
func (r *Registry) OnRemove(fn func(clientID string)) {
	r.mu.Lock()
	r.onRemove = fn
	r.mu.Unlock()
}

func (r *Registry) GetOrCreate(clientID string) *Store {
	r.mu.RLock()
	store, ok := r.stores[clientID]
	r.mu.RUnlock()
	if ok {
		return store
	}

	r.mu.Lock()
	store, ok = r.stores[clientID]
	var created func(string)
	if !ok {
		store = NewStore(clientID, r.storeCfg)
		r.stores[clientID] = store
		created = r.onCreate
	}
	r.mu.Unlock()

	if created != nil {
		r.logger.Info("client store created", "client_id", clientID)
		created(clientID)
	}
	return store
}

func (r *Registry) Get(clientID string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[clientID]
	return store, ok
}

func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	_, ok := r.stores[clientID]
	if ok {
		delete(r.stores, clientID)
	}
	removed := r.onRemove
	r.mu.Unlock()

	if ok {
		r.logger.Info("client store removed", "client_id", clientID)
		if removed != nil {
			removed(clientID)
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

type ClientInfo struct {
	ClientID   string    `json:"client_id"`
	Frames     int       `json:"frames"`
	Bytes      int64     `json:"bytes"`
	Dropped    uint64    `json:"dropped"`
	LastAppend time.Time `json:"last_append"`
}

func (r *Registry) ListClients() []ClientInfo {
	r.mu.RLock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(stores))
	for _, s := range stores {
		infos = append(infos, ClientInfo{
			ClientID:   s.ClientID(),
			Frames:     s.Count(),
			Bytes:      s.Bytes(),
			Dropped:    s.Dropped(),
			LastAppend: s.LastAppend(),
		})
	}
	return infos
}

// Start launches the background sweeper that evicts expired frames and
// reclaims stores idle past the inactivity timeout.
func (r *Registry) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()
}

func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	var stale []string

	r.mu.RLock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	for _, s := range stores {
		s.EvictExpired()
		last := s.LastAppend()
		if !last.IsZero() && now.Sub(last) > r.timeout {
			stale = append(stale, s.ClientID())
		}
	}

	for _, id := range stale {
		r.Remove(id)
	}
}
