package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: DriverPostgres}
	got := pg.Rebind("UPDATE t SET a = ? WHERE id = ? AND status = 'x'")
	want := "UPDATE t SET a = $1 WHERE id = $2 AND status = 'x'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	lite := &DB{Driver: DriverSQLite}
	if q := "SELECT ?"; lite.Rebind(q) != q {
		t.Error("sqlite queries must not be rewritten")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.migrate(context.Background()); err != nil {
		t.Fatalf("second migration pass: %v", err)
	}
	var n int
	if err := d.DB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("applied migrations: got %d, want 2", n)
	}
}

func TestClaimIsConditional(t *testing.T) {
	d := openTestDB(t)
	ops := NewJobOperations(d)
	ctx := context.Background()
	now := time.Now().UTC()

	j := &PrintJob{ID: "j1", Document: "<p>x</p>", Kind: "kitchen", CreatedAt: now, AvailableAt: now}
	if err := ops.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if j.Seq == 0 {
		t.Error("seq not assigned")
	}

	ok, err := ops.Claim(ctx, "j1", "a", now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = ops.Claim(ctx, "j1", "b", now)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}

	got, err := ops.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusInProgress || got.ClaimedBy != "a" || got.ClaimedAt == nil {
		t.Errorf("unexpected job after claim: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("completed_at must stay null")
	}

	if _, err := ops.GetJob(ctx, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v", err)
	}
}

func TestWebhookAndSettingsOperations(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	hooks := NewWebhookOperations(d)
	w := &Webhook{Name: "kds", URL: "http://x", EventsJSON: `["print_done"]`, Enabled: true}
	if err := hooks.CreateWebhook(ctx, w); err != nil {
		t.Fatal(err)
	}
	found, err := hooks.ListActiveWebhooksForEvent(ctx, "print_done")
	if err != nil || len(found) != 1 || !found[0].Enabled {
		t.Fatalf("lookup by event: %v %+v", err, found)
	}
	if found, _ := hooks.ListActiveWebhooksForEvent(ctx, "print_failed"); len(found) != 0 {
		t.Error("unexpected match for other event")
	}
	if ok, err := hooks.DeleteWebhook(ctx, w.ID); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}

	settings := NewSettingsOperations(d)
	if err := settings.SetSetting(ctx, "k", "v1", false); err != nil {
		t.Fatal(err)
	}
	if err := settings.SetSetting(ctx, "k", "v2", true); err != nil {
		t.Fatal(err)
	}
	s, err := settings.GetSetting(ctx, "k")
	if err != nil || s.Value != "v2" || !s.Encrypted {
		t.Fatalf("setting: %+v %v", s, err)
	}
}
