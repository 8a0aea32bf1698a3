package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockManager serializes commits touching the same resources. Acquire must
// take the locks in LockOrder and fail with ErrLockTimeout when ctx expires
// before every lock is held. The returned release func is safe to call once.
type LockManager interface {
	Acquire(ctx context.Context, resourceIDs []string) (release func(), err error)
}

// LockOrder returns the distinct ids in the global acquisition order.
func LockOrder(resourceIDs []string) []string {
	ordered := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if id = strings.TrimSpace(id); id != "" {
			ordered = append(ordered, id)
		}
	}
	slices.Sort(ordered)
	return slices.Compact(ordered)
}

// LocalLocks is an in-process LockManager with one weighted semaphore per
// resource, which lets waiters give up when their context ends. Entries are
// reference counted and dropped once no holder or waiter uses them.
type LocalLocks struct {
	mu   sync.Mutex
	sems map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocalLocks returns an empty in-process lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{sems: make(map[string]*lockEntry)}
}

func (l *LocalLocks) ref(id string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sems[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.sems[id] = e
	}
	e.refs++
	return e.sem
}

func (l *LocalLocks) unref(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sems[id]; ok {
		if e.refs--; e.refs <= 0 {
			delete(l.sems, id)
		}
	}
}

// Len reports how many resources currently have a holder or waiter.
func (l *LocalLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sems)
}

// Acquire implements LockManager.
func (l *LocalLocks) Acquire(ctx context.Context, resourceIDs []string) (func(), error) {
	keys := LockOrder(resourceIDs)
	held := make([]string, 0, len(keys))
	sems := make([]*semaphore.Weighted, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			sems[i].Release(1)
			l.unref(held[i])
		}
	}

	for _, key := range keys {
		s := l.ref(key)
		if err := s.Acquire(ctx, 1); err != nil {
			l.unref(key)
			unlock()
			return nil, lockError(key, err)
		}
		held = append(held, key)
		sems = append(sems, s)
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

// lockError maps a context failure during acquisition to ErrLockTimeout.
func lockError(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: resource %s", ErrLockTimeout, key)
	}
	return err
}
