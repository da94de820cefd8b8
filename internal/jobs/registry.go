package jobs

import "sync"

// Registry tracks in-flight generation jobs and their cancellation flags.
// It is the only cancellation channel: the running job polls its flag at
// defined points rather than being interrupted, so cancellation latency is
// bounded by the polling granularity.
type Registry struct {
	mu     sync.Mutex
	active map[string]*registryEntry
}

type registryEntry struct {
	cancelled bool
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*registryEntry)}
}

// Admit registers jobID as active. It returns false when a job with the
// same id is already in flight, preserving at-most-one-active-job per id.
func (r *Registry) Admit(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[jobID]; ok {
		return false
	}
	r.active[jobID] = &registryEntry{}
	return true
}

// Cancel flags an active job for cooperative cancellation. It returns
// whether an active job existed.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.active[jobID]
	if !ok {
		return false
	}
	entry.cancelled = true
	return true
}

// Cancelled reports whether jobID has a pending cancellation request.
func (r *Registry) Cancelled(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.active[jobID]
	return ok && entry.cancelled
}

// Release removes jobID unconditionally. Called exactly once, on any
// terminal transition of the job.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
