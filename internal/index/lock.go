package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// LockFileName is the ingest lock inside the data directory.
const LockFileName = ".ingest.lock"

// DefaultLockTimeout bounds how long a writer waits for another process.
const DefaultLockTimeout = 30 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// IngestLock serializes writers across processes, so a CLI ingest and a
// running server never interleave ord assignment for one document.
// Works on all platforms gofrs/flock supports.
type IngestLock struct {
	path    string
	timeout time.Duration
}

// NewIngestLock creates a lock at <dataDir>/.ingest.lock. A non-positive
// timeout uses DefaultLockTimeout.
func NewIngestLock(dataDir string, timeout time.Duration) *IngestLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &IngestLock{path: filepath.Join(dataDir, LockFileName), timeout: timeout}
}

// Path returns the lock file path.
func (l *IngestLock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held, the timeout passes or ctx ends.
// The returned release func is safe to call more than once.
//
// Each acquisition opens its own flock handle: flock(2) locks belong to
// the open file description, so goroutines in one process exclude each
// other the same way separate processes do.
func (l *IngestLock) Acquire(ctx context.Context) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to create lock directory", err)
	}

	fl := flock.New(l.path)
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	locked, err := fl.TryLockContext(waitCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, rerrors.New(rerrors.ErrCodeLocked, "failed to acquire ingest lock", err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rerrors.New(rerrors.ErrCodeLocked,
			fmt.Sprintf("another writer holds %s", l.path), err).
			WithSuggestion("Wait for the running ingest to finish, or remove a stale lock file")
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		_ = fl.Unlock()
	}, nil
}
