// Package lock serializes work per key within a process and per file across
// processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another process")

// MutexMap serializes work per key, such as an execution session ID. Slots
// are never freed, so keys should come from a bounded set.
type MutexMap struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMutexMap() *MutexMap {
	return &MutexMap{slots: make(map[string]chan struct{})}
}

// With runs fn while holding key.
func (m *MutexMap) With(key string, fn func() error) error {
	return m.WithContext(context.Background(), key, fn)
}

// WithContext runs fn while holding key. If ctx is done before key is free,
// fn does not run and the context error is returned wrapped.
func (m *MutexMap) WithContext(ctx context.Context, key string, fn func() error) error {
	slot := m.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for %q: %w", key, ctx.Err())
	}
	defer func() { <-slot }()
	return fn()
}

func (m *MutexMap) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[key] = s
	}
	return s
}

// FileLock is an advisory flock(2) on a lock file holding the owner's PID.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// ForFile returns the lock guarding target, kept next to it as target.lock.
func ForFile(target string) *FileLock {
	return NewFileLock(target + ".lock")
}

func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%s: %w", fl.path, ErrLocked)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	release := func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
	}
	if err := f.Truncate(0); err != nil {
		release()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		release()
		return fmt.Errorf("write PID to lock file: %w", err)
	}

	fl.file = f
	return nil
}

// Lock retries TryLock every interval until it succeeds, fails for a reason
// other than contention, or ctx is done.
func (fl *FileLock) Lock(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := fl.TryLock()
		if err == nil || !errors.Is(err, ErrLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", fl.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock. The lock file itself is left in place so a
// waiter holding it open keeps contending on the same inode.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	defer func() { fl.file = nil }()

	if err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN); err != nil {
		_ = fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}
