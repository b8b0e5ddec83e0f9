package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"casedocs/internal/catalog"
	"casedocs/internal/models"
)

// StoreRepository persists the matter → store mapping.
type StoreRepository interface {
	GetStore(ctx context.Context, matterID string) (*models.IndexStore, error)
	InsertStore(ctx context.Context, store *models.IndexStore) error
}

// Cache is an optional read-through cache for store mappings.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Manager owns store lifecycle and job polling on top of a Backend.
type Manager struct {
	backend Backend
	stores  StoreRepository

	cache    Cache
	cacheTTL time.Duration

	backoff     float64
	maxInterval time.Duration

	creates       singleflight.Group
	createTimeout time.Duration
}

const defaultCreateTimeout = 30 * time.Second

type Option func(*Manager)

// WithCreateTimeout bounds a shared store creation.
func WithCreateTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.createTimeout = d
		}
	}
}

// WithCache caches store mappings for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache = cache
		m.cacheTTL = ttl
	}
}

// WithBackoff multiplies the poll interval by factor after every attempt, up to max.
func WithBackoff(factor float64, max time.Duration) Option {
	return func(m *Manager) {
		m.backoff = factor
		m.maxInterval = max
	}
}

func NewManager(backend Backend, stores StoreRepository, opts ...Option) *Manager {
	m := &Manager{backend: backend, stores: stores, backoff: 1, createTimeout: defaultCreateTimeout}
	for _, opt := range opts {
		opt(m)
	}
	if m.backoff < 1 {
		m.backoff = 1
	}
	return m
}

// Backend returns the configured backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

func storeCacheKey(matterID string) string {
	return "index:store:" + matterID
}

// LookupStore returns the persisted store of a matter without creating one.
func (m *Manager) LookupStore(ctx context.Context, matterID string) (*models.IndexStore, error) {
	if m.cache != nil {
		if raw, err := m.cache.Get(ctx, storeCacheKey(matterID)); err == nil {
			var store models.IndexStore
			if err := json.Unmarshal([]byte(raw), &store); err == nil && store.StoreName != "" {
				return &store, nil
			}
		}
	}
	store, err := m.stores.GetStore(ctx, matterID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("lookup store: %w", err)
	}
	m.remember(ctx, store)
	return store, nil
}

func (m *Manager) remember(ctx context.Context, store *models.IndexStore) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(store)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, storeCacheKey(store.MatterID), raw, m.cacheTTL); err != nil {
		log.Printf("index: cache store for matter %s: %v", store.MatterID, err)
	}
}

// EnsureStore returns the matter's store, creating it on the backend when absent.
// Concurrent callers for one matter share a single creation, which runs detached from
// any one caller's cancellation and is bounded by its own timeout.
func (m *Manager) EnsureStore(ctx context.Context, matterID string) (*models.IndexStore, error) {
	ch := m.creates.DoChan(matterID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.createTimeout)
		defer cancel()
		return m.ensureStore(shared, matterID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.IndexStore), nil
	}
}

func (m *Manager) ensureStore(ctx context.Context, matterID string) (*models.IndexStore, error) {
	store, err := m.LookupStore(ctx, matterID)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, ErrStoreNotFound) {
		return nil, err
	}

	displayName := DisplayName(matterID)
	name, err := m.backend.CreateStore(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("create store for matter %s: %w", matterID, err)
	}
	store = &models.IndexStore{
		MatterID:    matterID,
		StoreName:   name,
		DisplayName: displayName,
		Backend:     m.backend.Name(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.stores.InsertStore(ctx, store); err != nil {
		if !errors.Is(err, catalog.ErrDuplicate) {
			return nil, fmt.Errorf("save store for matter %s: %w", matterID, err)
		}
		existing, getErr := m.stores.GetStore(ctx, matterID)
		if getErr != nil {
			return nil, fmt.Errorf("reload store for matter %s: %w", matterID, getErr)
		}
		log.Printf("index: matter %s already has store %s, external store %s is unused", matterID, existing.StoreName, name)
		store = existing
	}
	m.remember(ctx, store)
	return store, nil
}

// SubmitDocument starts indexing upload into store.
func (m *Manager) SubmitDocument(ctx context.Context, store *models.IndexStore, upload Upload) (*Job, error) {
	if store == nil || store.StoreName == "" {
		return nil, errors.New("index: store required")
	}
	if len(upload.Content) == 0 {
		return nil, errors.New("index: empty upload")
	}
	job, err := m.backend.Submit(ctx, store.StoreName, upload)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", upload.DisplayName, err)
	}
	job.StoreName = store.StoreName
	if job.MIMEType == "" {
		job.MIMEType = upload.MIMEType
	}
	job.state = StateSubmitted
	return job, nil
}

// AwaitCompletion polls job until it finishes, fails, or the budget runs out.
// The budget is maxWait/pollInterval status checks and a maxWait deadline, whichever
// comes first. A timeout is reported in the outcome, not as an error. Cancelling ctx
// stops polling and returns ctx.Err() with the job left pending.
func (m *Manager) AwaitCompletion(ctx context.Context, job *Job, maxWait, pollInterval time.Duration) (Outcome, error) {
	if job == nil {
		return Outcome{}, errors.New("index: job required")
	}
	if job.State().Terminal() {
		return job.outcome, nil
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxWait < pollInterval {
		maxWait = pollInterval
	}
	maxAttempts := int(maxWait / pollInterval)
	deadline := time.Now().Add(maxWait)
	// status calls share the wall-clock budget so a hung check cannot outlive it
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	interval := pollInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				job.state = StatePending
				return Outcome{State: StatePending, Attempts: attempt - 1}, ctx.Err()
			}
			return m.finish(job, Outcome{State: StateTimedOut, Attempts: attempt - 1}), nil
		case <-timer.C:
		}

		job.state = StatePending
		status, err := m.backend.Status(pollCtx, job)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Outcome{State: StatePending, Attempts: attempt}, ctx.Err()
			}
			if pollCtx.Err() != nil {
				return m.finish(job, Outcome{State: StateTimedOut, Attempts: attempt}), nil
			}
			log.Printf("index: status check %d for job %s failed: %v", attempt, job.ID, err)
		case status.Done && status.Error != "":
			return m.finish(job, Outcome{State: StateFailed, Attempts: attempt, Message: status.Error}), nil
		case status.Done:
			return m.finish(job, Outcome{
				State:    StateSucceeded,
				Attempts: attempt,
				FileName: job.FileName,
				FileURI:  job.FileURI,
			}), nil
		}

		remaining := time.Until(deadline)
		if attempt >= maxAttempts || remaining <= 0 {
			return m.finish(job, Outcome{State: StateTimedOut, Attempts: attempt}), nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer.Reset(wait)
		interval = m.nextInterval(interval)
	}
}

func (m *Manager) nextInterval(current time.Duration) time.Duration {
	if m.backoff <= 1 {
		return current
	}
	next := time.Duration(float64(current) * m.backoff)
	if m.maxInterval > 0 && next > m.maxInterval {
		next = m.maxInterval
	}
	return next
}

func (m *Manager) finish(job *Job, outcome Outcome) Outcome {
	job.state = outcome.State
	job.outcome = outcome
	return outcome
}

// Query answers question from the documents indexed in store.
func (m *Manager) Query(ctx context.Context, store *models.IndexStore, question string, refs []FileRef) (string, error) {
	if store == nil {
		return "", ErrStoreNotFound
	}
	answer, err := m.backend.Query(ctx, store.StoreName, question, refs)
	if err != nil {
		return "", &QueryError{StoreName: store.StoreName, Err: err}
	}
	return answer, nil
}
