package zkstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// memSession implements Session against a MemBackend.
type memSession struct {
	backend *MemBackend
	limiter *rate.Limiter

	mu        sync.Mutex
	ephemeral []string
	locks     []*memLock
	closed    bool
}

// CreateEphemeral creates an ephemeral node, making up to
// EphemeralRetryAttempts attempts in total (paced by the session's rate
// limiter) to ride out a stale session still holding the same path.
func (s *memSession) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < EphemeralRetryAttempts; attempt++ {
		if attempt == 0 {
			// Take the limiter's token now so the first retry waits a
			// full EphemeralRetryDelay instead of firing immediately.
			s.limiter.Allow()
		} else if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("create ephemeral %s: %w", path, err)
		}

		s.backend.mu.Lock()
		if _, exists := s.backend.nodes[path]; exists {
			s.backend.mu.Unlock()
			lastErr = fmt.Errorf("create ephemeral %s: %w", path, ErrConflict)
			continue
		}
		s.backend.nodes[path] = &entry{data: append([]byte(nil), data...), ephemeral: true, owner: s}
		parent := parentPath(path)
		s.backend.mu.Unlock()

		s.backend.notifyData(path)
		s.backend.notifyChildren(parent)

		s.mu.Lock()
		s.ephemeral = append(s.ephemeral, path)
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("create ephemeral %s after %d attempts: %w", path, EphemeralRetryAttempts, lastErr)
}

// Close removes every ephemeral node and releases every lock created
// through this session, simulating session expiry.
func (s *memSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	paths := s.ephemeral
	locks := s.locks
	s.ephemeral = nil
	s.locks = nil
	s.mu.Unlock()

	for _, l := range locks {
		_ = l.Unlock()
	}
	for _, p := range paths {
		_ = s.backend.Delete(context.Background(), p)
	}
	return nil
}

// memLock is a held leader-lock node under an election path.
type memLock struct {
	backend *MemBackend
	session *memSession
	path    string
	mu      sync.Mutex
	held    bool
}

func (l *memLock) Unlock() error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	l.mu.Unlock()
	return l.backend.Delete(context.Background(), l.path)
}

func sequenceOf(childName string) int {
	idx := strings.LastIndex(childName, "-")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(childName[idx+1:])
	return n
}

// Lock blocks until sess holds the lowest-sequence ephemeral child under
// path, implementing the ZK "sequential ephemeral" leader-lock recipe
// named in spec.md section 6 (/election/<role>).
func (b *MemBackend) Lock(ctx context.Context, sess Session, path string) (Lock, error) {
	ms, ok := sess.(*memSession)
	if !ok {
		return nil, fmt.Errorf("zkstore: session type mismatch")
	}

	seq := b.nextSeq(path)
	myName := fmt.Sprintf("lock-%010d", seq)
	myPath := path + "/" + myName
	if err := ms.CreateEphemeral(ctx, myPath, nil); err != nil {
		return nil, err
	}

	changed := make(chan struct{}, 1)
	handle, err := b.WatchChildren(path, func([]string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	for {
		children, err := b.List(ctx, path)
		if err != nil {
			return nil, err
		}
		sort := append([]string(nil), children...)
		sortBySequence(sort)
		if len(sort) > 0 && sort[0] == myName {
			l := &memLock{backend: b, session: ms, path: myPath, held: true}
			ms.mu.Lock()
			ms.locks = append(ms.locks, l)
			ms.mu.Unlock()
			return l, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			_ = b.Delete(context.Background(), myPath)
			return nil, ctx.Err()
		}
	}
}

func sortBySequence(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && sequenceOf(names[j-1]) > sequenceOf(names[j]); j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}
