package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/metastore"
	"github.com/p-arndt/texcompile/internal/sandbox"
)

// keyLen is the length, in hex characters, of a generated session key —
// matching make_id()'s 16-hex-char UUID4 truncation in
// original_source/latex/session.py.
const keyLen = 16

const maxKeyGenAttempts = 5

// recordKeyPrefix namespaces session records in the shared MetaStore
// keyspace, since set_members and other bookkeeping keys live alongside
// them.
const recordKeyPrefix = "session:"

// Manager creates, loads, saves, and deletes sessions, and owns the
// per-instance set of live session keys used by the reaper sweep. It
// mirrors original_source/latex/session.py's SessionManager, generalized
// from a direct Redis client onto the metastore.Store abstraction.
type Manager struct {
	root        *sandbox.FS
	instanceKey string
	ttlSec      int
	store       metastore.Store
	clk         clock.Clock
	compilers   map[string]bool
}

// NewManager builds a Manager rooted at root, using instanceKey to
// namespace the set of live session keys (so multiple service instances
// can share one MetaStore without colliding), ttlSec as the default
// session lifetime, and allowedCompilers as the whitelist enforced by
// CreateSession.
func NewManager(root *sandbox.FS, instanceKey string, ttlSec int, store metastore.Store, clk clock.Clock, allowedCompilers []string) *Manager {
	compilers := make(map[string]bool, len(allowedCompilers))
	for _, c := range allowedCompilers {
		compilers[c] = true
	}
	return &Manager{
		root:        root,
		instanceKey: instanceKey,
		ttlSec:      ttlSec,
		store:       store,
		clk:         clk,
		compilers:   compilers,
	}
}

func recordKey(sessionKey string) string {
	return recordKeyPrefix + sessionKey
}

// ValidateConversionData checks an optional rasterization request against
// spec.md §4.5's rules: format must be one of jpeg/png/tiff, and dpi must
// be an integer in [10, 10000]. A nil input passes through unchanged.
func (m *Manager) ValidateConversionData(d *Convert) (*Convert, error) {
	if d == nil {
		return nil, nil
	}
	switch d.Format {
	case "jpeg", "png", "tiff":
	default:
		return nil, fmt.Errorf("%w: unsupported convert format %q", ErrInvalidRequest, d.Format)
	}
	if d.DPI < 10 || d.DPI > 10000 {
		return nil, fmt.Errorf("%w: dpi %d out of range [10, 10000]", ErrInvalidRequest, d.DPI)
	}
	return d, nil
}

// generateKey returns a random keyLen-hex-character string, retrying on
// collision against the MetaStore up to maxKeyGenAttempts times.
func (m *Manager) generateKey(ctx context.Context) (string, error) {
	buf := make([]byte, keyLen/2)
	for attempt := 0; attempt < maxKeyGenAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("session: generate key: %w", err)
		}
		key := hex.EncodeToString(buf)
		_, found, err := m.store.Get(ctx, recordKey(key))
		if err != nil {
			return "", fmt.Errorf("session: check key collision: %w", err)
		}
		if !found {
			return key, nil
		}
	}
	return "", fmt.Errorf("session: exhausted %d attempts generating a unique key", maxKeyGenAttempts)
}

// CreateSession validates compiler and convert, allocates a fresh key and
// working directory, and persists the new editable session record.
func (m *Manager) CreateSession(ctx context.Context, compiler, target string, convert *Convert) (*Session, error) {
	if !m.compilers[compiler] {
		return nil, fmt.Errorf("%w: unsupported compiler %q", ErrInvalidRequest, compiler)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: target must not be empty", ErrInvalidRequest)
	}
	convert, err := m.ValidateConversionData(convert)
	if err != nil {
		return nil, err
	}

	key, err := m.generateKey(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.root.Makedirs(key); err != nil {
		return nil, fmt.Errorf("session: create working dir: %w", err)
	}
	fs, err := m.root.CreateFrom(key)
	if err != nil {
		return nil, fmt.Errorf("session: root session fs: %w", err)
	}

	now := m.clk.Now()
	rec := Record{
		Key:       key,
		Compiler:  compiler,
		Target:    target,
		Created:   now,
		ExpiresAt: now + float64(m.ttlSec),
		Status:    StatusEditable,
		Convert:   convert,
	}

	s, err := newSession(rec, fs, m.save)
	if err != nil {
		return nil, err
	}

	if err := m.store.SAdd(ctx, m.instanceKey, key); err != nil {
		return nil, fmt.Errorf("session: register key: %w", err)
	}
	if err := m.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSession reconstructs a Session from its persisted Record and
// working directory. The bool result is false (with a nil error) when no
// record exists for key.
func (m *Manager) LoadSession(ctx context.Context, key string) (*Session, bool, error) {
	data, found, err := m.store.Get(ctx, recordKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("session: load %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("session: decode record %s: %w", key, err)
	}
	fs, err := m.root.CreateFrom(key)
	if err != nil {
		return nil, false, fmt.Errorf("session: root session fs %s: %w", key, err)
	}
	s, err := newSession(rec, fs, m.save)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// SaveSession persists s's current Record to the MetaStore.
func (m *Manager) SaveSession(ctx context.Context, s *Session) error {
	return m.save(s)
}

func (m *Manager) save(s *Session) error {
	data, err := json.Marshal(s.Record)
	if err != nil {
		return fmt.Errorf("session: encode record %s: %w", s.Key, err)
	}
	ctx := context.Background()
	if err := m.store.Set(ctx, recordKey(s.Key), data); err != nil {
		return fmt.Errorf("session: save %s: %w", s.Key, err)
	}
	return nil
}

// DeleteSession removes a session's working directory, record, and
// membership entry. It is idempotent: deleting an already-gone session is
// not an error (spec.md invariant 5).
func (m *Manager) DeleteSession(ctx context.Context, s *Session) error {
	if err := m.root.Rmtree(s.Key); err != nil {
		return fmt.Errorf("session: remove working dir %s: %w", s.Key, err)
	}
	if err := m.store.Delete(ctx, recordKey(s.Key)); err != nil {
		return fmt.Errorf("session: delete record %s: %w", s.Key, err)
	}
	if err := m.store.SRem(ctx, m.instanceKey, s.Key); err != nil {
		return fmt.Errorf("session: unregister key %s: %w", s.Key, err)
	}
	return nil
}

// GetAllSessionIDs returns every session key currently registered under
// this instance's key set, used by the reaper sweep.
func (m *Manager) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	members, err := m.store.SMembers(ctx, m.instanceKey)
	if err != nil {
		return nil, fmt.Errorf("session: list session ids: %w", err)
	}
	return members, nil
}
