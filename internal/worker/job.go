package worker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDispatcherBusy is returned by Submit when the intake queue is full.
	ErrDispatcherBusy = errors.New("worker: dispatcher busy")
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("worker: dispatcher closed")
)

// Job is a unit of background work. Jobs sharing a Key start in submission order and
// keys take turns, so one busy matter cannot starve the others. With more than one
// worker, jobs of the same Key may overlap once started.
type Job struct {
	Key     string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	stop bool
}
