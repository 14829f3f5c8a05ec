package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/neurobridge/assessment-session/internal/clock"
	"github.com/neurobridge/assessment-session/internal/models"
)

const DefaultKeyPrefix = "neurobridge_assessment_"

// SessionStore keeps exactly one current session, one backup snapshot, the
// last completion record and per-phase answer stashes. Backend and
// serialization failures are logged here and never returned: callers see a
// missing record instead.
type SessionStore struct {
	kv     KeyValueStore
	logger *slog.Logger
	prefix string
	quota  int64
	clock  clock.Clock
}

type StoreOption func(*SessionStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *SessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithQuota sets the byte budget reported by Info. It does not enforce anything.
func WithQuota(quota int64) StoreOption {
	return func(s *SessionStore) {
		s.quota = quota
	}
}

func WithClock(c clock.Clock) StoreOption {
	return func(s *SessionStore) {
		s.clock = c
	}
}

func NewSessionStore(kv KeyValueStore, logger *slog.Logger, opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		kv:     kv,
		logger: logger.With("component", "session_store"),
		prefix: DefaultKeyPrefix,
		quota:  DefaultQuotaBytes,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) CurrentKey() string    { return s.prefix + "current_session" }
func (s *SessionStore) BackupKey() string     { return s.prefix + "backup" }
func (s *SessionStore) CompletionKey() string { return s.prefix + "completion" }

func (s *SessionStore) PhaseKey(phase string) string {
	return s.prefix + "phase_" + phase
}

// Checksum is a corruption signal for backups, not an integrity guarantee.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// ===== CURRENT SESSION =====

// Save refreshes lastUpdated, writes the session and then a backup snapshot.
// It reports whether the primary write succeeded.
func (s *SessionStore) Save(ctx context.Context, session *models.AssessmentSession) bool {
	session.Metadata.LastUpdated = s.clock.Now().UnixMilli()

	data, err := json.Marshal(session)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to serialize session", "session_id", session.SessionID, "error", err)
		return false
	}

	if err := s.kv.Set(ctx, s.CurrentKey(), data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save session", "session_id", session.SessionID, "error", err)
		return false
	}

	s.writeBackup(ctx, session.SessionID, data)

	s.logger.DebugContext(ctx, "Session saved", "session_id", session.SessionID, "responses", len(session.Responses))
	return true
}

func (s *SessionStore) writeBackup(ctx context.Context, sessionID string, data []byte) {
	snapshot := models.BackupSnapshot{
		Timestamp: s.clock.Now().UnixMilli(),
		Session:   json.RawMessage(data),
		Checksum:  Checksum(data),
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.WarnContext(ctx, "Backup creation failed", "session_id", sessionID, "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.BackupKey(), encoded); err != nil {
		s.logger.WarnContext(ctx, "Backup creation failed", "session_id", sessionID, "error", err)
	}
}

// Load returns the current session, or nil when there is none or it cannot be read.
func (s *SessionStore) Load(ctx context.Context) *models.AssessmentSession {
	var session models.AssessmentSession
	if !s.readJSON(ctx, s.CurrentKey(), &session) {
		return nil
	}
	return &session
}

// Clear removes the current session only. Backup, completion record and phase
// stashes are left in place.
func (s *SessionStore) Clear(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.CurrentKey()); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear current session", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "Current session cleared")
}

// ===== BACKUP =====

// LoadBackupSnapshot returns the raw backup envelope without verifying it.
func (s *SessionStore) LoadBackupSnapshot(ctx context.Context) *models.BackupSnapshot {
	var snapshot models.BackupSnapshot
	if !s.readJSON(ctx, s.BackupKey(), &snapshot) {
		return nil
	}
	return &snapshot
}

// LoadBackup returns the backed-up session. A snapshot whose checksum does
// not match its contents is treated as unreadable.
func (s *SessionStore) LoadBackup(ctx context.Context) *models.AssessmentSession {
	snapshot := s.LoadBackupSnapshot(ctx)
	if snapshot == nil {
		return nil
	}

	if Checksum(snapshot.Session) != snapshot.Checksum {
		s.logger.WarnContext(ctx, "Backup checksum mismatch", "expected", snapshot.Checksum)
		return nil
	}

	var session models.AssessmentSession
	if err := json.Unmarshal(snapshot.Session, &session); err != nil {
		s.logger.ErrorContext(ctx, "Failed to decode backup session", "error", err)
		return nil
	}
	return &session
}

// ===== COMPLETION =====

func (s *SessionStore) SaveCompletion(ctx context.Context, record *models.CompletionRecord) bool {
	return s.writeJSON(ctx, s.CompletionKey(), record)
}

func (s *SessionStore) LoadCompletion(ctx context.Context) *models.CompletionRecord {
	var record models.CompletionRecord
	if !s.readJSON(ctx, s.CompletionKey(), &record) {
		return nil
	}
	return &record
}

// ===== PHASE STASHES =====

func (s *SessionStore) SavePhaseStash(ctx context.Context, stash *models.PhaseStash) bool {
	return s.writeJSON(ctx, s.PhaseKey(stash.Phase), stash)
}

func (s *SessionStore) LoadPhaseStash(ctx context.Context, phase string) *models.PhaseStash {
	var stash models.PhaseStash
	if !s.readJSON(ctx, s.PhaseKey(phase), &stash) {
		return nil
	}
	return &stash
}

func (s *SessionStore) ClearPhaseStash(ctx context.Context, phase string) {
	if err := s.kv.Delete(ctx, s.PhaseKey(phase)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear phase stash", "phase", phase, "error", err)
	}
}

// ===== HOUSEKEEPING =====

// ClearAll removes every key under the store prefix and returns how many were removed.
func (s *SessionStore) ClearAll(ctx context.Context) int {
	keys, err := s.kv.Keys(ctx, s.prefix)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list assessment keys", "error", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "Failed to delete assessment key", "key", key, "error", err)
			continue
		}
		removed++
	}
	s.logger.InfoContext(ctx, "All assessment data cleared", "keys_removed", removed)
	return removed
}

func (s *SessionStore) Info(ctx context.Context) models.StorageInfo {
	info := models.StorageInfo{}

	if data, err := s.kv.Get(ctx, s.CurrentKey()); err == nil {
		info.CurrentSessionSize = len(data)
	}
	if data, err := s.kv.Get(ctx, s.BackupKey()); err == nil {
		info.BackupSize = len(data)
	}

	keys, err := s.kv.Keys(ctx, s.prefix)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to list assessment keys", "error", err)
	}
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		info.TotalStorageUsed += len(key) + len(data)
	}

	info.AvailableStorage = s.quota - int64(info.TotalStorageUsed)
	return info
}

func (s *SessionStore) writeJSON(ctx context.Context, key string, value any) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to serialize record", "key", key, "error", err)
		return false
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write record", "key", key, "error", err)
		return false
	}
	return true
}

func (s *SessionStore) readJSON(ctx context.Context, key string, dest any) bool {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.logger.ErrorContext(ctx, "Failed to read record", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.ErrorContext(ctx, "Failed to decode record", "key", key, "error", err)
		return false
	}
	return true
}
