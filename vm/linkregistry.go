package vm

import "sync"

// LinkRegistry is the process table's link/monitor bookkeeping (spec §4.5,
// §4.6). Links are symmetric (both sides hold the edge); monitors are
// asymmetric (only the watcher learns of the watched process's exit). The
// per-process Links/Monitors/Watchers maps hold the actual edges; this type
// adds the process-id lookup and the global monitor-id counter so the two
// call sites (executor, fault handler) don't duplicate bookkeeping.
type LinkRegistry struct {
	mu       sync.Mutex
	nextRef  uint64
	lookup   func(Address) (*ProcessContext, bool)
}

func NewLinkRegistry(lookup func(Address) (*ProcessContext, bool)) *LinkRegistry {
	return &LinkRegistry{lookup: lookup}
}

// Link establishes a symmetric link between a and b (idempotent).
func (r *LinkRegistry) Link(a, b Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pa, ok := r.lookup(a); ok {
		pa.Links[b] = struct{}{}
	}
	if pb, ok := r.lookup(b); ok {
		pb.Links[a] = struct{}{}
	}
}

// Unlink removes the symmetric link between a and b, if any.
func (r *LinkRegistry) Unlink(a, b Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pa, ok := r.lookup(a); ok {
		delete(pa.Links, b)
	}
	if pb, ok := r.lookup(b); ok {
		delete(pb.Links, a)
	}
}

// Monitor creates a one-directional monitor: watcher learns of watched's
// exit via a DOWN message, watched is never informed of watcher.
func (r *LinkRegistry) Monitor(watcher, watched Address, now int64) (MonitorRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pw, ok := r.lookup(watched)
	if !ok {
		return MonitorRef{}, NewFault(KindInvalidAddress, "monitor target does not exist")
	}
	pWatcher, ok := r.lookup(watcher)
	if !ok {
		return MonitorRef{}, NewFault(KindInvalidAddress, "monitoring process does not exist")
	}
	r.nextRef++
	ref := MonitorRef{ID: r.nextRef, Watcher: watcher, Watched: watched, CreatedAt: now}
	pWatcher.Monitors[ref.ID] = ref
	pw.Watchers[ref.ID] = ref
	return ref, nil
}

// SyntheticMonitor mints a monitor ref for a MONITOR of a dead or
// nonexistent target (spec §4.1: "MONITOR of a dead or nonexistent process
// immediately posts a DOWN message to the watcher"). The ref is returned
// but never registered in either index — there is nothing to clean up
// later, since the DOWN fires immediately instead of waiting on Cleanup.
func (r *LinkRegistry) SyntheticMonitor(watcher, watched Address, now int64) MonitorRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRef++
	return MonitorRef{ID: r.nextRef, Watcher: watcher, Watched: watched, CreatedAt: now}
}

// Demonitor removes a previously created monitor, reporting whether it was
// still active.
func (r *LinkRegistry) Demonitor(ref MonitorRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	if pw, ok := r.lookup(ref.Watcher); ok {
		if _, ok := pw.Monitors[ref.ID]; ok {
			delete(pw.Monitors, ref.ID)
			found = true
		}
	}
	if pw, ok := r.lookup(ref.Watched); ok {
		delete(pw.Watchers, ref.ID)
	}
	return found
}

// Cleanup removes every link/monitor edge referencing addr (an exiting
// process) and reports who needs to be notified: linked peers (symmetric,
// always notified subject to their trap_exit flag) and watchers (monitor
// owners, always notified via DOWN regardless of trap_exit).
func (r *LinkRegistry) Cleanup(addr Address) (linkedPeers []Address, watcherRefs []MonitorRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.lookup(addr)
	if !ok {
		return nil, nil
	}
	for peer := range proc.Links {
		linkedPeers = append(linkedPeers, peer)
		if pp, ok := r.lookup(peer); ok {
			delete(pp.Links, addr)
		}
	}
	for _, ref := range proc.Watchers {
		watcherRefs = append(watcherRefs, ref)
		if pw, ok := r.lookup(ref.Watcher); ok {
			delete(pw.Monitors, ref.ID)
		}
	}
	// monitors this process itself owned on others are no longer relevant
	for id, ref := range proc.Monitors {
		if pw, ok := r.lookup(ref.Watched); ok {
			delete(pw.Watchers, id)
		}
	}
	return linkedPeers, watcherRefs
}
