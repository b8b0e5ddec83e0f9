package worker

import (
	"log"
	"os"
)

// CASEDOCS_WORKER_DEBUG=1 traces job assignment and worker lifecycle.
var traceWorkers = os.Getenv("CASEDOCS_WORKER_DEBUG") == "1"

func debugLog(format string, args ...interface{}) {
	if traceWorkers {
		log.Printf("worker: "+format, args...)
	}
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for job := range w.jobChannel {
			if job.stop {
				debugLog("[worker-%d] stopping", w.id)
				return
			}
			w.pool.exec(job)
			if !w.pool.Release(w.jobChannel) {
				debugLog("[worker-%d] released after close", w.id)
				return
			}
		}
	}()
}
