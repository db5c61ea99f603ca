package order

import (
	"sort"
	"sync"
)

// loanLocks hands out one mutex per loan ID. Entries are never evicted; the
// set of loans a single instance serves is bounded.
type loanLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLoanLocks() *loanLocks {
	return &loanLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *loanLocks) get(loanID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[loanID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[loanID] = m
	}
	return m
}

// lock acquires the loan's mutex and returns its release func.
func (l *loanLocks) lock(loanID string) func() {
	m := l.get(loanID)
	m.Lock()
	return m.Unlock
}

// lockAll acquires several loans in sorted order so concurrent callers
// cannot deadlock.
func (l *loanLocks) lockAll(loanIDs []string) func() {
	ids := append([]string(nil), loanIDs...)
	sort.Strings(ids)

	unlocks := make([]func(), 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		unlocks = append(unlocks, l.lock(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
