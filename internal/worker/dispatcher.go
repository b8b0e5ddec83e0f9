package worker

import (
	"container/list"
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Config sizes the dispatcher and its pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	// JobTimeout applies to jobs that do not set their own.
	JobTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds jobs from a bounded intake queue to an elastic worker pool,
// round-robin across job keys.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, front dispatches next
	positions map[string]*list.Element

	inflight sync.WaitGroup
	done     chan struct{}
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MinWorkers < 0 {
		cfg.MinWorkers = 0
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		timeout:   cfg.JobTimeout,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		done:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.exec)

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("worker: job %q has no run func", job.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.inflight.Done()
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the key at the front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.ctx.Done():
				d.drop()
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.ctx.Done():
			d.drop()
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	meta := d.pool.acquire()
	if meta == nil {
		// pool closed during shutdown
		log.Printf("worker: dropping job %s for %s: dispatcher closed", job.Name, job.Key)
		d.inflight.Done()
		return true
	}
	debugLog("[dispatcher] assign job %s for %s to worker-%d", job.Name, job.Key, meta.id)
	meta.ch <- job
	return true
}

func (d *Dispatcher) exec(job Job) {
	defer d.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: job %s for %s panicked: %v", job.Name, job.Key, r)
		}
	}()

	ctx := d.ctx
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Printf("worker: job %s for %s failed after %s: %v", job.Name, job.Key, time.Since(start).Round(time.Millisecond), err)
		return
	}
	debugLog("[worker] job %s for %s done in %s", job.Name, job.Key, time.Since(start).Round(time.Millisecond))
}

// drop discards every job that never reached a worker.
func (d *Dispatcher) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := 0
	for key, q := range d.queues {
		dropped += len(q.jobs)
		delete(d.queues, key)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	for {
		select {
		case <-d.jobQueue:
			dropped++
			continue
		default:
		}
		break
	}
	for i := 0; i < dropped; i++ {
		d.inflight.Done()
	}
	if dropped > 0 {
		log.Printf("worker: dropped %d queued job(s) on shutdown", dropped)
	}
}

// Pending returns the number of jobs accepted but not yet handed to a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.jobQueue)
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n
}

// Stats is a snapshot of dispatcher occupancy.
type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Pending int `json:"pending"`
}

func (d *Dispatcher) Stats() Stats {
	ps := d.pool.stats()
	return Stats{Workers: ps.Running, Idle: ps.Idle, Pending: d.Pending()}
}

// Close stops intake, cancels running jobs and waits for workers to return or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.pool.close()
	<-d.done

	waited := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every accepted job has finished. Intended for tests and one-shot commands.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
