package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/penguin-run/penguin/pkg/core"
)

// SQLiteStore is a ConversationStore backend on modernc.org/sqlite,
// implementing the append-only log plus checkpoint index for
// local-first, single-process deployments. Appends are serialized per
// session with an in-process mutex in front of the database, since
// sqlite itself only serializes at the connection/transaction level.
type SQLiteStore struct {
	db    *sql.DB
	locks *sessionLocks
}

// schemaVersion is recorded on every row so future migrations can branch
// on it.
const schemaVersion = 1

// OpenSQLiteStore opens (creating if necessary) a conversation database at
// path. path may be ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conversation: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer simplicity

	s := &SQLiteStore{db: db, locks: newSessionLocks()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	parent_id TEXT,
	parent_head INTEGER,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	next_id INTEGER NOT NULL DEFAULT 1,
	head_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent_id TEXT,
	recipient_id TEXT,
	channel TEXT,
	message_type TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL,
	tombstoned INTEGER NOT NULL DEFAULT 0,
	replaces_id INTEGER,
	schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	head_message_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	name TEXT,
	description TEXT,
	parent_checkpoint_id TEXT,
	created_at TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);
`)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID, agentID string) (*core.Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, agent_id, branch, created_at, updated_at, next_id, head_id)
VALUES (?, ?, 'main', ?, ?, 1, 0)`,
		sessionID, agentID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("conversation: create session: %w", err)
	}
	return &core.Session{ID: sessionID, AgentID: agentID, Branch: "main", CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT agent_id, branch, parent_id, parent_head, metadata, created_at, updated_at
FROM sessions WHERE id = ?`, sessionID)

	var sess core.Session
	sess.ID = sessionID
	var parentID sql.NullString
	var parentHead sql.NullInt64
	var metaJSON sql.NullString
	var created, updated string
	if err := row.Scan(&sess.AgentID, &sess.Branch, &parentID, &parentHead, &metaJSON, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "session", ID: sessionID}
		}
		return nil, fmt.Errorf("conversation: get session: %w", err)
	}
	sess.ParentID = parentID.String
	sess.ParentHead = parentHead.Int64
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &sess.Metadata)
	}
	return &sess, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, message *core.Message) (int64, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var nextID int64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM sessions WHERE id = ?`, sessionID).Scan(&nextID); err != nil {
		if err == sql.ErrNoRows {
			return 0, &ErrNotFound{Kind: "session", ID: sessionID}
		}
		return 0, err
	}

	now := time.Now().UTC()
	metaJSON, err := json.Marshal(message.Metadata)
	if err != nil {
		return 0, err
	}
	msgType := message.Type
	if msgType == "" {
		msgType = core.MessageKindMessage
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO messages (session_id, id, role, content, agent_id, recipient_id, channel, message_type, metadata, created_at, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, nextID, message.Role, message.Content, message.AgentID, message.RecipientID, message.Channel,
		msgType, string(metaJSON), now.Format(time.RFC3339Nano), schemaVersion)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET next_id = ?, head_id = ?, updated_at = ? WHERE id = ?`,
		nextID+1, nextID, now.Format(time.RFC3339Nano), sessionID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return nextID, nil
}

func (s *SQLiteStore) Head(ctx context.Context, sessionID string) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx, `SELECT head_id FROM sessions WHERE id = ?`, sessionID).Scan(&head)
	if err == sql.ErrNoRows {
		return 0, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	return head, err
}

func (s *SQLiteStore) Range(ctx context.Context, sessionID string, fromID, toID int64) ([]*core.Message, error) {
	query := `SELECT id, role, content, agent_id, recipient_id, channel, message_type, metadata, created_at, tombstoned, replaces_id
FROM messages WHERE session_id = ? AND id > ? AND tombstoned = 0`
	args := []any{sessionID, fromID}
	if toID > 0 {
		query += ` AND id <= ?`
		args = append(args, toID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Message
	for rows.Next() {
		m := &core.Message{SessionID: sessionID}
		var agentID, recipientID, channel, metaJSON, created sql.NullString
		var tombstoned int
		var replaces sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &agentID, &recipientID, &channel, &m.Type, &metaJSON, &created, &tombstoned, &replaces); err != nil {
			return nil, err
		}
		m.AgentID = agentID.String
		m.RecipientID = recipientID.String
		m.Channel = channel.String
		m.Tombstoned = tombstoned != 0
		m.ReplacesID = replaces.Int64
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created.String)
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Checkpoint(ctx context.Context, sessionID string, kind core.CheckpointKind, name, description string) (*core.Checkpoint, error) {
	head, err := s.Head(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var parent sql.NullString
	_ = s.db.QueryRowContext(ctx, `SELECT id FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID).Scan(&parent)

	cp := &core.Checkpoint{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		Branch:             "main",
		HeadMessageID:      head,
		Kind:               kind,
		Name:               name,
		Description:        description,
		ParentCheckpointID: parent.String,
		CreatedAt:          time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (id, session_id, branch, head_message_id, kind, name, description, parent_checkpoint_id, created_at, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, cp.Branch, cp.HeadMessageID, cp.Kind, cp.Name, cp.Description, cp.ParentCheckpointID,
		cp.CreatedAt.Format(time.RFC3339Nano), schemaVersion)
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*core.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, branch, head_message_id, kind, name, description, parent_checkpoint_id, created_at
FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Checkpoint
	for rows.Next() {
		cp := &core.Checkpoint{SessionID: sessionID}
		var name, description, parent, created string
		if err := rows.Scan(&cp.ID, &cp.Branch, &cp.HeadMessageID, &cp.Kind, &name, &description, &parent, &created); err != nil {
			return nil, err
		}
		cp.Name, cp.Description, cp.ParentCheckpointID = name, description, parent
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Rollback(ctx context.Context, sessionID, checkpointID string) error {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT head_message_id FROM checkpoints WHERE id = ? AND session_id = ?`, checkpointID, sessionID).Scan(&head); err != nil {
		if err == sql.ErrNoRows {
			return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
		}
		return err
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET tombstoned = 1 WHERE session_id = ? AND id > ?`, sessionID, head); err != nil {
		return err
	}
	// Ids restart right after the checkpoint head so the next Append
	// yields head+1. Tombstoned rows keep their old ids (the table has no
	// uniqueness constraint on id for exactly this reason) and Range
	// filters them out.
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET head_id = ?, next_id = ?, updated_at = ? WHERE id = ?`,
		head, head+1, time.Now().UTC().Format(time.RFC3339Nano), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Branch(ctx context.Context, sessionID, checkpointID, newSessionID string) error {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT head_message_id FROM checkpoints WHERE id = ? AND session_id = ?`, checkpointID, sessionID).Scan(&head); err != nil {
		if err == sql.ErrNoRows {
			return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
		}
		return err
	}

	var agentID string
	if err := s.db.QueryRowContext(ctx, `SELECT agent_id FROM sessions WHERE id = ?`, sessionID).Scan(&agentID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, agent_id, branch, parent_id, parent_head, created_at, updated_at, next_id, head_id)
VALUES (?, ?, 'main', ?, ?, ?, ?, ?, ?)`,
		newSessionID, agentID, sessionID, head, now, now, head+1, head)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO messages (session_id, id, role, content, agent_id, recipient_id, channel, message_type, metadata, created_at, tombstoned, replaces_id, schema_version)
SELECT ?, id, role, content, agent_id, recipient_id, channel, message_type, metadata, created_at, tombstoned, replaces_id, schema_version
FROM messages WHERE session_id = ? AND id <= ?`, newSessionID, sessionID, head)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Trim(ctx context.Context, sessionID string, opts core.TrimOptions) ([]*core.Message, error) {
	all, err := s.Range(ctx, sessionID, 0, -1)
	if err != nil {
		return nil, err
	}
	return trimMessages(all, opts), nil
}

// DeleteSession removes sessionID's row along with its messages and
// checkpoints. Sessions branched from it keep their own copied rows, so
// deleting a source session never orphans a reader mid-Range.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &ErrNotFound{Kind: "session", ID: sessionID}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSessionIDs returns every session id in the database, backing
// checkpoint.Checkpointer's cleanup pass.
func (s *SQLiteStore) ListSessionIDs(ctx context.Context) []string {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return out
		}
		out = append(out, id)
	}
	return out
}

// DeleteCheckpoint removes checkpointID from sessionID's checkpoint index
// without touching any message row.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, sessionID, checkpointID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ? AND session_id = ?`, checkpointID, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
	}
	return nil
}

var _ SessionDeleter = (*SQLiteStore)(nil)

// sessionLocks serializes writers per session id without holding a
// database-wide lock across unrelated sessions.
type sessionLocks struct {
	mu    sync.Mutex
	perID map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{perID: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.perID[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.perID[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

var _ Store = (*SQLiteStore)(nil)
