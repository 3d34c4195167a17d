package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTempDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, ctx
}

func TestApplyAndRollbackMigrations(t *testing.T) {
	db, ctx := openTempDB(t)
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	version, err := AppliedVersion(ctx, db)
	if err != nil {
		t.Fatalf("applied version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("version = %d, want %d", version, len(migrations))
	}

	mustExist := []string{"teams", "team_members", "instances"}
	for _, table := range mustExist {
		var name string
		if err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name); err != nil {
			t.Fatalf("expected table %s to exist: %v", table, err)
		}
	}

	if err := RollbackAll(ctx, db); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}
	for _, table := range mustExist {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count); err != nil {
			t.Fatalf("count table %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("table %s still exists after rollback", table)
		}
	}
	version, err = AppliedVersion(ctx, db)
	if err != nil {
		t.Fatalf("applied version after rollback: %v", err)
	}
	if version != 0 {
		t.Fatalf("version after rollback = %d, want 0", version)
	}
}

func TestCoreConstraints(t *testing.T) {
	db, ctx := openTempDB(t)
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.ExecContext(ctx, `INSERT INTO teams(team_id, name, created_at) VALUES('t1','one',?)`, now); err != nil {
		t.Fatalf("insert team: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO team_members(team_id, user_id, role, joined_at) VALUES('t1','u1','admin',?)`, now); err == nil {
		t.Fatalf("expected role check constraint failure")
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO team_members(team_id, user_id, role, joined_at) VALUES('missing','u1','viewer',?)`, now); err == nil {
		t.Fatalf("expected FK violation for missing team")
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO instances(instance_id, team_id, name, api_key, created_at) VALUES('i1','t1','a','k1',?)`, now); err != nil {
		t.Fatalf("insert instance: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO instances(instance_id, team_id, name, api_key, created_at) VALUES('i2','t1','b','k1',?)`, now); err == nil {
		t.Fatalf("expected unique violation on api_key")
	}
	if _, err := db.ExecContext(ctx, `UPDATE instances SET status = 'exploded' WHERE instance_id = 'i1'`); err == nil {
		t.Fatalf("expected status check constraint failure")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM teams WHERE team_id = 't1'`); err != nil {
		t.Fatalf("delete team: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`).Scan(&count); err != nil {
		t.Fatalf("count instances: %v", err)
	}
	if count != 0 {
		t.Fatalf("instances should cascade with team, got %d", count)
	}
}
