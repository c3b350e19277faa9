package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists conversation states in the shared relational pool.
// The (organization_id, room_id, user_id) triple is the primary key, so
// a second active state for the same user is structurally impossible.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

const createStateTablesSQL = `
CREATE TABLE IF NOT EXISTS conversation_states (
    organization_id VARCHAR(255) NOT NULL,
    room_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    type VARCHAR(50) NOT NULL,
    data_json TEXT,
    version INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, room_id, user_id)
);

CREATE TABLE IF NOT EXISTS state_transitions (
    organization_id VARCHAR(255) NOT NULL,
    room_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    from_type VARCHAR(50),
    from_step INTEGER,
    to_type VARCHAR(50),
    to_step INTEGER,
    reason VARCHAR(50),
    at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_transitions_triple ON state_transitions(organization_id, room_id, user_id, at);
`

// NewSQLStore bootstraps the state tables on an existing pool.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	for _, stmt := range strings.Split(createStateTablesSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(s.rebind(stmt)); err != nil {
			return nil, stateError("Bootstrap", "failed to create tables", err)
		}
	}
	return s, nil
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, tenant, room, user string) (*ConversationState, error) {
	if err := requireTenant("Get", tenant); err != nil {
		return nil, err
	}

	st := &ConversationState{OrganizationID: tenant, RoomID: room, UserID: user}
	var dataJSON sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT type, data_json, version, created_at, updated_at, expires_at FROM conversation_states
WHERE organization_id = ? AND room_id = ? AND user_id = ?`), tenant, room, user).
		Scan(&st.Type, &dataJSON, &st.Version, &st.CreatedAt, &st.UpdatedAt, &st.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, stateError("Get", "query failed", err)
	}

	if st.Expired(s.now()) {
		if err := s.clearRow(ctx, tenant, room, user, st.Type, stepOfJSON(dataJSON.String), ExitTimeout); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &st.Data); err != nil {
			return nil, stateError("Get", "corrupt data_json", err)
		}
	}
	return st, nil
}

// stepOfJSON pulls the step out of a stored data_json blob; a missing or
// unreadable payload reads as step 0.
func stepOfJSON(raw string) int {
	if raw == "" {
		return 0
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return 0
	}
	return stepOf(data)
}

func (s *SQLStore) Save(ctx context.Context, st *ConversationState) error {
	if err := requireTenant("Save", st.OrganizationID); err != nil {
		return err
	}

	data, err := json.Marshal(st.Data)
	if err != nil {
		return stateError("Save", "marshal data", err)
	}
	now := s.now().UTC().Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateError("Save", "begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var from Type
	var fromData sql.NullString
	var current int
	var expires time.Time
	err = tx.QueryRowContext(ctx, s.rebind(`
SELECT type, data_json, version, expires_at FROM conversation_states
WHERE organization_id = ? AND room_id = ? AND user_id = ?`),
		st.OrganizationID, st.RoomID, st.UserID).Scan(&from, &fromData, &current, &expires)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return stateError("Save", "read current version", err)
	case s.now().After(expires):
		// Expired rows never block a new flow.
		current = 0
		from = ""
		fromData = sql.NullString{}
	}

	if st.Version != current {
		return ErrVersionConflict
	}

	next := current + 1
	created := now
	if !st.CreatedAt.IsZero() && current > 0 {
		created = st.CreatedAt.UTC().Truncate(time.Second)
	}

	if current == 0 {
		// Replace any expired leftover row first.
		if _, err := tx.ExecContext(ctx, s.rebind(`
DELETE FROM conversation_states
WHERE organization_id = ? AND room_id = ? AND user_id = ?`),
			st.OrganizationID, st.RoomID, st.UserID); err != nil {
			return stateError("Save", "purge expired row", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO conversation_states (organization_id, room_id, user_id, type, data_json, version, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			st.OrganizationID, st.RoomID, st.UserID, st.Type, string(data), next,
			created, now, st.ExpiresAt.UTC().Truncate(time.Second))
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, s.rebind(`
UPDATE conversation_states
SET type = ?, data_json = ?, version = ?, updated_at = ?, expires_at = ?
WHERE organization_id = ? AND room_id = ? AND user_id = ? AND version = ?`),
			st.Type, string(data), next, now, st.ExpiresAt.UTC().Truncate(time.Second),
			st.OrganizationID, st.RoomID, st.UserID, current)
		if err == nil {
			affected, raErr := res.RowsAffected()
			if raErr == nil && affected == 0 {
				return ErrVersionConflict
			}
		}
	}
	if err != nil {
		return stateError("Save", "write failed", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO state_transitions (organization_id, room_id, user_id, from_type, from_step, to_type, to_step, reason, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		st.OrganizationID, st.RoomID, st.UserID,
		string(from), stepOfJSON(fromData.String), string(st.Type), stepOf(st.Data), "", now); err != nil {
		return stateError("Save", "record transition", err)
	}

	if err := tx.Commit(); err != nil {
		return stateError("Save", "commit", err)
	}

	st.Version = next
	st.CreatedAt = created
	st.UpdatedAt = now
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, tenant, room, user, reason string) error {
	if err := requireTenant("Clear", tenant); err != nil {
		return err
	}

	var from Type
	var dataJSON sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT type, data_json FROM conversation_states
WHERE organization_id = ? AND room_id = ? AND user_id = ?`), tenant, room, user).Scan(&from, &dataJSON)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return stateError("Clear", "query failed", err)
	}
	return s.clearRow(ctx, tenant, room, user, from, stepOfJSON(dataJSON.String), reason)
}

func (s *SQLStore) clearRow(ctx context.Context, tenant, room, user string, from Type, fromStep int, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateError("Clear", "begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.rebind(`
DELETE FROM conversation_states
WHERE organization_id = ? AND room_id = ? AND user_id = ?`), tenant, room, user); err != nil {
		return stateError("Clear", "delete failed", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO state_transitions (organization_id, room_id, user_id, from_type, from_step, to_type, to_step, reason, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tenant, room, user, string(from), fromStep, "", 0, reason, s.now().UTC().Truncate(time.Second)); err != nil {
		return stateError("Clear", "record transition", err)
	}
	if err := tx.Commit(); err != nil {
		return stateError("Clear", "commit", err)
	}
	return nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT organization_id, room_id, user_id, type, data_json FROM conversation_states
WHERE expires_at < ?`), s.now().UTC().Truncate(time.Second))
	if err != nil {
		return 0, stateError("CleanupExpired", "query failed", err)
	}

	type expiredRow struct {
		tenant, room, user string
		typ                Type
		step               int
	}
	var expired []expiredRow
	for rows.Next() {
		var row expiredRow
		var dataJSON sql.NullString
		if err := rows.Scan(&row.tenant, &row.room, &row.user, &row.typ, &dataJSON); err != nil {
			rows.Close()
			return 0, stateError("CleanupExpired", "scan failed", err)
		}
		row.step = stepOfJSON(dataJSON.String)
		expired = append(expired, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, stateError("CleanupExpired", "iterate failed", err)
	}

	for _, row := range expired {
		if err := s.clearRow(ctx, row.tenant, row.room, row.user, row.typ, row.step, ExitTimeout); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (s *SQLStore) History(ctx context.Context, tenant, room, user string, limit int) ([]Transition, error) {
	if err := requireTenant("History", tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT from_type, from_step, to_type, to_step, reason, at FROM state_transitions
WHERE organization_id = ? AND room_id = ? AND user_id = ?
ORDER BY at DESC LIMIT ?`), tenant, room, user, limit)
	if err != nil {
		return nil, stateError("History", "query failed", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		t := Transition{OrganizationID: tenant, RoomID: room, UserID: user}
		var from, to, reason sql.NullString
		var fromStep, toStep sql.NullInt64
		if err := rows.Scan(&from, &fromStep, &to, &toStep, &reason, &t.At); err != nil {
			return nil, stateError("History", "scan failed", err)
		}
		t.From = Type(from.String)
		t.FromStep = int(fromStep.Int64)
		t.To = Type(to.String)
		t.ToStep = int(toStep.Int64)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
