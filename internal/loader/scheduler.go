package loader

import "sync"

// numCopierTasksToSchedulePerBatch and minimumNumCopierTasksToScheduleMore
// bound how far a producer can run ahead of the worker pool before it must
// block, the back-pressure discipline spec.md §4.8.3 names
// waitUntilEnoughTasksFinish for.
const (
	numCopierTasksToSchedulePerBatch    = 8
	minimumNumCopierTasksToScheduleMore = 4
)

// CopyTask is one unit of pass-1/pass-2 work: populate one block of rows.
type CopyTask func() error

// TaskScheduler runs CopyTasks with bounded concurrency, stopping new work
// promptly once any task reports an error (spec.md §4.8.8's shared abort
// flag) and letting a producer block until enough prior work has drained.
type TaskScheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	maxInFlight int
	inFlight int
	wg       sync.WaitGroup
	firstErr error
	aborted  bool
}

// NewTaskScheduler creates a scheduler that runs at most maxInFlight tasks
// concurrently. A maxInFlight <= 0 defaults to
// numCopierTasksToSchedulePerBatch.
func NewTaskScheduler(maxInFlight int) *TaskScheduler {
	if maxInFlight <= 0 {
		maxInFlight = numCopierTasksToSchedulePerBatch
	}
	s := &TaskScheduler{maxInFlight: maxInFlight}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Aborted reports whether a task has already failed.
func (s *TaskScheduler) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Schedule runs task on a worker goroutine, blocking the caller first if
// maxInFlight tasks are already running. A no-op once the scheduler has
// aborted.
func (s *TaskScheduler) Schedule(task CopyTask) {
	s.mu.Lock()
	for s.inFlight >= s.maxInFlight && !s.aborted {
		s.cond.Wait()
	}
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.inFlight++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := task()
		s.mu.Lock()
		s.inFlight--
		if err != nil && s.firstErr == nil {
			s.firstErr = err
			s.aborted = true
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
}

// WaitUntilEnoughTasksFinish blocks until in-flight work drops to at most
// threshold, the producer's back-pressure checkpoint between blocks
// (spec.md §4.8.3). Callers between batches pass
// minimumNumCopierTasksToScheduleMore.
func (s *TaskScheduler) WaitUntilEnoughTasksFinish(threshold int) {
	s.mu.Lock()
	for s.inFlight > threshold && !s.aborted {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// WaitAllTasksToCompleteOrError blocks until every scheduled task has
// finished, returning the first error any task reported, if any.
func (s *TaskScheduler) WaitAllTasksToCompleteOrError() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}
