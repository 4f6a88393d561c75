package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Repository writes audit logs to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(fromContext(ctx, entry))
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, org_id, actor, role, action, resource_type, resource_id, unit_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, entry.ID, entry.OrgID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, entry.UnitID,
		[]byte(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// MemoryLog keeps entries in memory for tests.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Log appends the entry.
func (m *MemoryLog) Log(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, normalize(fromContext(ctx, entry)))
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
