package automation

import "sync"

// DefaultLogCapacity is the number of entries an ExecutionLog keeps
// unless configured otherwise.
const DefaultLogCapacity = 1000

// ExecutionLog is a bounded, newest-first record of automation runs.
//
// New entries are inserted at the head; once the log is full the oldest
// entries are evicted. It is safe for concurrent use.
type ExecutionLog struct {
	mu       sync.RWMutex
	entries  []ExecutionLogEntry // newest first
	capacity int
}

// NewExecutionLog creates a log holding at most capacity entries.
// A non-positive capacity selects DefaultLogCapacity.
func NewExecutionLog(capacity int) *ExecutionLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &ExecutionLog{capacity: capacity}
}

// Append inserts an entry at the head, evicting the oldest entries when
// the log is over capacity.
func (l *ExecutionLog) Append(entry ExecutionLogEntry) {
	entry.Error = cloneStringPtr(entry.Error)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, ExecutionLogEntry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = entry

	if len(l.entries) > l.capacity {
		clear(l.entries[l.capacity:])
		l.entries = l.entries[:l.capacity]
	}
}

// Entries returns a copy of the log, newest first.
func (l *ExecutionLog) Entries() []ExecutionLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEntries(l.entries)
}

// ForAutomation returns up to limit entries for one automation, newest
// first. A non-positive limit returns all matching entries.
func (l *ExecutionLog) ForAutomation(automationID string, limit int) []ExecutionLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ExecutionLogEntry
	for _, e := range l.entries {
		if e.AutomationID != automationID {
			continue
		}
		e.Error = cloneStringPtr(e.Error)
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of entries currently held.
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries retained.
func (l *ExecutionLog) Capacity() int {
	return l.capacity
}

// Replace swaps the log contents for entries (newest first), trimming to
// capacity.
func (l *ExecutionLog) Replace(entries []ExecutionLogEntry) {
	cpy := copyEntries(entries)
	if len(cpy) > l.capacity {
		cpy = cpy[:l.capacity]
	}

	l.mu.Lock()
	l.entries = cpy
	l.mu.Unlock()
}

func copyEntries(entries []ExecutionLogEntry) []ExecutionLogEntry {
	cpy := make([]ExecutionLogEntry, len(entries))
	for i, e := range entries {
		e.Error = cloneStringPtr(e.Error)
		cpy[i] = e
	}
	return cpy
}
