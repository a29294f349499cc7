package watcher

import "time"

// renamePairer matches a rename notification for an old path with the
// creation of its new path. The notification layer reports a rename as two
// independent events; only when the create arrives within the pairing window
// can the pair be reported as one rename. An unpaired rename degrades to a
// removal when the window expires.
type renamePairer struct {
	window time.Duration

	pending  string
	deadline time.Time
}

// renamed records a rename notification for path. A previous pending rename
// is flushed; a non-empty return must be reported as removed.
func (p *renamePairer) renamed(path string, now time.Time) (flush string) {
	flush = p.take()
	p.pending = path
	p.deadline = now.Add(p.window)
	return flush
}

// created consumes the pending rename, if any. When paired, the returned old
// path and the created path form one rename event. A non-empty old path with
// paired false arrived too late and must be reported as removed, with the
// created path reported as added.
func (p *renamePairer) created(now time.Time) (old string, paired bool) {
	if p.pending == "" {
		return "", false
	}

	old = p.take()
	return old, !now.After(p.deadline)
}

// expire flushes the pending rename once its window has passed. A non-empty
// return must be reported as removed.
func (p *renamePairer) expire(now time.Time) (flush string) {
	if p.pending == "" || now.Before(p.deadline) {
		return ""
	}

	return p.take()
}

func (p *renamePairer) take() string {
	old := p.pending
	p.pending = ""
	return old
}
