package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/g960059/osrelay/internal/db"
	"github.com/g960059/osrelay/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "osrelay-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// Fixture is a seeded team with one instance and one member per role.
type Fixture struct {
	TeamID   string
	Instance model.Instance
	// Members maps each role to the id of a user holding it.
	Members map[model.Role]string
}

func SeedTeam(t *testing.T, store *db.Store, ctx context.Context, teamID string) Fixture {
	t.Helper()
	now := time.Now().UTC()
	if err := store.UpsertTeam(ctx, model.Team{TeamID: teamID, Name: teamID, CreatedAt: now}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	fx := Fixture{TeamID: teamID, Members: map[model.Role]string{}}
	for _, role := range model.Roles {
		userID := teamID + "-" + string(role)
		if err := store.UpsertMembership(ctx, model.Membership{TeamID: teamID, UserID: userID, Role: role, JoinedAt: now}); err != nil {
			t.Fatalf("seed %s member: %v", role, err)
		}
		fx.Members[role] = userID
	}
	fx.Instance = SeedInstance(t, store, ctx, teamID)
	return fx
}

func SeedInstance(t *testing.T, store *db.Store, ctx context.Context, teamID string) model.Instance {
	t.Helper()
	inst := model.Instance{
		InstanceID: uuid.NewString(),
		TeamID:     teamID,
		Name:       "rotation",
		APIKey:     "osr_" + uuid.NewString(),
		Status:     model.InstanceOffline,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	return inst
}
