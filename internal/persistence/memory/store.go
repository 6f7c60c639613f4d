// Package memory implements every repository interface in process, for local runs
// and tests. Upserts follow the same natural keys as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/wearablesync/internal/domain"
)

type userKey struct {
	userID   string
	platform string
}

type dayKey struct {
	userKey
	date time.Time
}

type workoutKey struct {
	userKey
	workoutID string
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu               sync.RWMutex
	connections      map[userKey]domain.Connection
	tokens           map[userKey]domain.TokenRecord
	cycles           map[dayKey]domain.CycleMetric
	recoveries       map[dayKey]domain.RecoveryMetric
	sleeps           map[dayKey]domain.SleepMetric
	workouts         map[workoutKey]domain.WorkoutMetric
	profiles         map[userKey]domain.Profile
	syncLogs         []domain.SyncLogEntry
	validationErrors []domain.ValidationErrorEntry
	events           []domain.SyncEvent
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		connections: make(map[userKey]domain.Connection),
		tokens:      make(map[userKey]domain.TokenRecord),
		cycles:      make(map[dayKey]domain.CycleMetric),
		recoveries:  make(map[dayKey]domain.RecoveryMetric),
		sleeps:      make(map[dayKey]domain.SleepMetric),
		workouts:    make(map[workoutKey]domain.WorkoutMetric),
		profiles:    make(map[userKey]domain.Profile),
	}
}

// GetConnection implements domain.ConnectionRepository.
func (s *Store) GetConnection(_ context.Context, userID, platform string) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[userKey{userID, platform}]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	return &conn, nil
}

// ListActiveConnections implements domain.ConnectionRepository.
func (s *Store) ListActiveConnections(_ context.Context, platform string) ([]domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Connection, 0, len(s.connections))
	for key, conn := range s.connections {
		if key.platform == platform && conn.IsActive {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ActivateConnection implements domain.ConnectionRepository.
func (s *Store) ActivateConnection(_ context.Context, userID, platform string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{userID, platform}
	conn, ok := s.connections[key]
	if !ok {
		conn = domain.Connection{UserID: userID, Platform: platform, CreatedAt: at}
	}
	conn.IsActive = true
	conn.UpdatedAt = at
	s.connections[key] = conn
	return nil
}

// DeactivateConnection implements domain.ConnectionRepository.
func (s *Store) DeactivateConnection(_ context.Context, userID, platform string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{userID, platform}
	conn, ok := s.connections[key]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.IsActive = false
	conn.UpdatedAt = at
	s.connections[key] = conn
	return nil
}

// MarkSynced implements domain.ConnectionRepository.
func (s *Store) MarkSynced(_ context.Context, userID, platform string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{userID, platform}
	conn, ok := s.connections[key]
	if !ok {
		return false, domain.ErrConnectionNotFound
	}
	first := !conn.InitialSyncCompleted
	conn.InitialSyncCompleted = true
	conn.LastSyncAt = &at
	conn.UpdatedAt = at
	s.connections[key] = conn
	return first, nil
}

// GetToken implements domain.TokenRepository.
func (s *Store) GetToken(_ context.Context, userID, platform string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[userKey{userID, platform}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SaveToken implements domain.TokenRepository.
func (s *Store) SaveToken(_ context.Context, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userKey{record.UserID, record.Platform}] = record
	return nil
}

// DeleteToken implements domain.TokenRepository.
func (s *Store) DeleteToken(_ context.Context, userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userKey{userID, platform})
	return nil
}

// UpsertMetrics implements domain.MetricRepository.
func (s *Store) UpsertMetrics(_ context.Context, batch domain.MetricBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range batch.Cycles {
		s.cycles[dayKey{userKey{c.UserID, c.Platform}, c.Date}] = c
	}
	for _, r := range batch.Recoveries {
		s.recoveries[dayKey{userKey{r.UserID, r.Platform}, r.Date}] = r
	}
	for _, sl := range batch.Sleeps {
		s.sleeps[dayKey{userKey{sl.UserID, sl.Platform}, sl.Date}] = sl
	}
	for _, w := range batch.Workouts {
		s.workouts[workoutKey{userKey{w.UserID, w.Platform}, w.WorkoutID}] = w
	}
	return nil
}

// UpsertProfile implements domain.MetricRepository. Empty fields keep their stored values.
func (s *Store) UpsertProfile(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{profile.UserID, profile.Platform}
	if prev, ok := s.profiles[key]; ok {
		profile.FirstName = firstNonEmpty(profile.FirstName, prev.FirstName)
		profile.LastName = firstNonEmpty(profile.LastName, prev.LastName)
		profile.Email = firstNonEmpty(profile.Email, prev.Email)
		if profile.HeightMeter == nil {
			profile.HeightMeter = prev.HeightMeter
		}
		if profile.WeightKg == nil {
			profile.WeightKg = prev.WeightKg
		}
		if profile.MaxHeartRate == nil {
			profile.MaxHeartRate = prev.MaxHeartRate
		}
	}
	s.profiles[key] = profile
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// AppendSyncLog implements domain.SyncLogRepository.
func (s *Store) AppendSyncLog(_ context.Context, entry domain.SyncLogEntry, events ...domain.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLogs = append(s.syncLogs, entry)
	s.events = append(s.events, events...)
	return nil
}

// AppendValidationErrors implements domain.SyncLogRepository.
func (s *Store) AppendValidationErrors(_ context.Context, entries []domain.ValidationErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validationErrors = append(s.validationErrors, entries...)
	return nil
}

// ListSyncLogs implements domain.SyncLogRepository, newest first.
func (s *Store) ListSyncLogs(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.SyncLogEntry, *domain.Cursor, error) {
	s.mu.RLock()
	matching := make([]domain.SyncLogEntry, 0)
	for _, entry := range s.syncLogs {
		if entry.UserID == userID {
			matching = append(matching, entry)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].StartedAt.Equal(matching[j].StartedAt) {
			return matching[i].StartedAt.After(matching[j].StartedAt)
		}
		return matching[i].ID > matching[j].ID
	})

	out := make([]domain.SyncLogEntry, 0, limit)
	for _, entry := range matching {
		if cursor != nil && !olderThan(entry, *cursor) {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return out, next, nil
}

// olderThan reports whether entry sorts strictly after cursor in newest-first order.
func olderThan(entry domain.SyncLogEntry, cursor domain.Cursor) bool {
	if entry.StartedAt.Equal(cursor.StartedAt) {
		return entry.ID < cursor.ID
	}
	return entry.StartedAt.Before(cursor.StartedAt)
}

// Snapshot is a point-in-time copy of stored metrics, sorted by natural key.
type Snapshot struct {
	Cycles     []domain.CycleMetric
	Recoveries []domain.RecoveryMetric
	Sleeps     []domain.SleepMetric
	Workouts   []domain.WorkoutMetric
}

// Metrics returns every stored metric for the user.
func (s *Store) Metrics(userID, platform string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	for k, v := range s.cycles {
		if k.userID == userID && k.platform == platform {
			snap.Cycles = append(snap.Cycles, v)
		}
	}
	for k, v := range s.recoveries {
		if k.userID == userID && k.platform == platform {
			snap.Recoveries = append(snap.Recoveries, v)
		}
	}
	for k, v := range s.sleeps {
		if k.userID == userID && k.platform == platform {
			snap.Sleeps = append(snap.Sleeps, v)
		}
	}
	for k, v := range s.workouts {
		if k.userID == userID && k.platform == platform {
			snap.Workouts = append(snap.Workouts, v)
		}
	}
	sort.Slice(snap.Cycles, func(i, j int) bool { return snap.Cycles[i].Date.Before(snap.Cycles[j].Date) })
	sort.Slice(snap.Recoveries, func(i, j int) bool { return snap.Recoveries[i].Date.Before(snap.Recoveries[j].Date) })
	sort.Slice(snap.Sleeps, func(i, j int) bool { return snap.Sleeps[i].Date.Before(snap.Sleeps[j].Date) })
	sort.Slice(snap.Workouts, func(i, j int) bool { return snap.Workouts[i].WorkoutID < snap.Workouts[j].WorkoutID })
	return snap
}

// Profile returns the stored profile, if any.
func (s *Store) Profile(userID, platform string) (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userKey{userID, platform}]
	return p, ok
}

// SyncLogs returns every appended sync log entry in insertion order.
func (s *Store) SyncLogs() []domain.SyncLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SyncLogEntry(nil), s.syncLogs...)
}

// ValidationErrors returns every appended validation error in insertion order.
func (s *Store) ValidationErrors() []domain.ValidationErrorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ValidationErrorEntry(nil), s.validationErrors...)
}

// Events returns every event written alongside a sync log entry.
func (s *Store) Events() []domain.SyncEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SyncEvent(nil), s.events...)
}
