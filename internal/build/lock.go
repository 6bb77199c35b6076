package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const defaultLockPollInterval = 250 * time.Millisecond

// FileLocker serializes builds of the same package across processes with an
// exclusive flock on a file in Dir.
type FileLocker struct {
	Dir          string
	PollInterval time.Duration
}

var _ PackageLocker = (*FileLocker)(nil)

// Lock blocks until the lock for key is held or ctx is done.
func (l *FileLocker) Lock(ctx context.Context, key string) (func() error, error) {
	if l.Dir == "" {
		return nil, errors.New("lock directory is not configured")
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := filepath.Join(l.Dir, lockFileName(key))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	interval := l.PollInterval
	if interval <= 0 {
		interval = defaultLockPollInterval
	}

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrLocked, key, ctx.Err())
		case <-time.After(interval):
		}
	}

	var once sync.Once
	return func() error {
		var unlockErr error
		once.Do(func() {
			unlockErr = errors.Join(
				unix.Flock(int(file.Fd()), unix.LOCK_UN),
				file.Close(),
			)
		})
		return unlockErr
	}, nil
}

func lockFileName(key string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(key)))
	return hex.EncodeToString(sum[:8]) + ".lock"
}

// MutexLocker serializes builds of the same package within one process.
type MutexLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ PackageLocker = (*MutexLocker)(nil)

// NewMutexLocker returns an empty in-process locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{slots: make(map[string]chan struct{})}
}

// Lock blocks until the lock for key is held or ctx is done.
func (l *MutexLocker) Lock(ctx context.Context, key string) (func() error, error) {
	slot := l.slot(filepath.Clean(key))

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrLocked, key, ctx.Err())
	}

	var once sync.Once
	return func() error {
		once.Do(func() { <-slot })
		return nil
	}, nil
}

func (l *MutexLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}
