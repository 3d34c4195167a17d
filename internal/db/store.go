package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/osrelay/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) UpsertTeam(ctx context.Context, team model.Team) error {
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO teams(team_id, name, created_at)
VALUES (?, ?, ?)
ON CONFLICT(team_id) DO UPDATE SET
	name=excluded.name
`, team.TeamID, team.Name, ts(team.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert team: %w", err)
	}
	return nil
}

func (s *Store) UpsertMembership(ctx context.Context, m model.Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("upsert membership: unknown role %q", m.Role)
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO team_members(team_id, user_id, role, joined_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(team_id, user_id) DO UPDATE SET
	role=excluded.role
`, m.TeamID, m.UserID, string(m.Role), ts(m.JoinedAt))
	if err != nil {
		if isForeignKeyErr(err) {
			return ErrNotFound
		}
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete membership rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveTeamMembership returns the role userID holds in teamID, or
// ErrNotFound when the user is not a member.
func (s *Store) ResolveTeamMembership(ctx context.Context, teamID, userID string) (model.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve membership: %w", err)
	}
	return model.Role(role), nil
}

func (s *Store) InsertInstance(ctx context.Context, inst model.Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	if inst.Status == "" {
		inst.Status = model.InstanceOffline
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO instances(instance_id, team_id, name, api_key, status, last_seen_at, created_at, hls_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, inst.InstanceID, inst.TeamID, inst.Name, inst.APIKey, string(inst.Status), nullableTS(inst.LastSeenAt), ts(inst.CreatedAt), nullableStr(inst.HLSURL))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		if isForeignKeyErr(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

const instanceColumns = `instance_id, team_id, name, api_key, status, last_seen_at, created_at,
	current_video, current_playlist, current_category, obs_connected, uptime_seconds, hls_url`

func (s *Store) ResolveInstanceByAPIKey(ctx context.Context, apiKey string) (model.Instance, error) {
	if strings.TrimSpace(apiKey) == "" {
		return model.Instance{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE api_key = ?`, apiKey)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Instance{}, ErrNotFound
		}
		return model.Instance{}, fmt.Errorf("resolve instance by api key: %w", err)
	}
	return inst, nil
}

func (s *Store) ResolveInstanceByID(ctx context.Context, instanceID string) (model.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE instance_id = ?`, instanceID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Instance{}, ErrNotFound
		}
		return model.Instance{}, fmt.Errorf("resolve instance by id: %w", err)
	}
	return inst, nil
}

func (s *Store) ListTeamInstanceIDs(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM instances WHERE team_id = ? ORDER BY instance_id ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team instances: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter team instances: %w", err)
	}
	return out, nil
}

func (s *Store) MarkInstanceOffline(ctx context.Context, instanceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE instances SET status = 'offline' WHERE instance_id = ?`, instanceID)
	if err != nil {
		return fmt.Errorf("mark instance offline: %w", err)
	}
	return requireOneRow(res, "mark instance offline")
}

// PersistSnapshot records the known snapshot fields and stamps last_seen_at
// in a single statement.
func (s *Store) PersistSnapshot(ctx context.Context, instanceID string, snap model.InstanceSnapshot) error {
	status := snap.Status
	if status == "" {
		status = model.InstanceOnline
	}
	observed := snap.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE instances SET
	status = ?,
	current_video = ?,
	current_playlist = ?,
	current_category = ?,
	obs_connected = ?,
	uptime_seconds = ?,
	last_seen_at = ?
WHERE instance_id = ?
`, string(status), nullableStr(snap.CurrentVideo), nullableStr(snap.CurrentPlaylist), nullableStr(snap.CurrentCategory),
		boolToInt(snap.OBSConnected), snap.UptimeSeconds, ts(observed), instanceID)
	if err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return requireOneRow(res, "persist snapshot")
}

func scanInstance(scanner interface{ Scan(dest ...any) error }) (model.Instance, error) {
	var (
		inst         model.Instance
		status       string
		lastSeenAt   sql.NullString
		createdAt    string
		video        sql.NullString
		playlist     sql.NullString
		category     sql.NullString
		obsConnected int
		hlsURL       sql.NullString
	)
	if err := scanner.Scan(&inst.InstanceID, &inst.TeamID, &inst.Name, &inst.APIKey, &status, &lastSeenAt, &createdAt,
		&video, &playlist, &category, &obsConnected, &inst.UptimeSeconds, &hlsURL); err != nil {
		return model.Instance{}, err
	}
	inst.Status = model.InstanceStatus(status)
	inst.OBSConnected = obsConnected == 1
	inst.CurrentVideo = strPtr(video)
	inst.CurrentPlaylist = strPtr(playlist)
	inst.CurrentCategory = strPtr(category)
	inst.HLSURL = strPtr(hlsURL)
	var err error
	inst.CreatedAt, err = parseTS(createdAt)
	if err != nil {
		return model.Instance{}, fmt.Errorf("parse created_at: %w", err)
	}
	if lastSeenAt.Valid {
		v, err := parseTS(lastSeenAt.String)
		if err != nil {
			return model.Instance{}, fmt.Errorf("parse last_seen_at: %w", err)
		}
		inst.LastSeenAt = &v
	}
	return inst, nil
}

func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"UNIQUE constraint failed",
		"constraint failed: UNIQUE",
	)
}

func isForeignKeyErr(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"FOREIGN KEY constraint failed",
		"constraint failed: FOREIGN KEY",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
