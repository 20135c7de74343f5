package persistence_test

import (
	"context"
	"testing"

	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/persistence"
	"PerpIndexer/internal/testutil"
)

// Round-trips an entity batch through a real Postgres. Requires the
// docker-compose.test.yml stack.
func TestEntityBatchRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := observability.NewLogger("test")

	migrator := persistence.NewMigrator(db, "../../migrations", log)
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := persistence.NewEntityWriter(db)

	rows := []persistence.EntityRow{
		{Kind: "account", ID: "0xu001", Data: []byte(`{"id":"0xu001"}`)},
		{Kind: "position", ID: "0xu001-0xp001-1", Data: []byte(`{"id":"0xu001-0xp001-1","closed":false}`)},
		{Kind: "position", ID: "0xu001-0xp001-1", Data: []byte(`{"id":"0xu001-0xp001-1","closed":true}`)},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEntityBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := writer.WriteWatermark(ctx, tx, 120033, 1650000000); err != nil {
		t.Fatalf("write watermark: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	block, ts, err := writer.ReadWatermark(ctx)
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if block != 120033 || ts != 1650000000 {
		t.Errorf("watermark = %d/%d, want 120033/1650000000", block, ts)
	}

	var data []byte
	err = db.QueryRowContext(ctx,
		`SELECT data FROM ledger.entities WHERE kind = 'position' AND id = '0xu001-0xp001-1'`,
	).Scan(&data)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if got := string(data); got != `{"id": "0xu001-0xp001-1", "closed": true}` && got != `{"id":"0xu001-0xp001-1","closed":true}` {
		t.Errorf("position doc = %s, want last write", got)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger.entities`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("entity rows = %d, want 2", count)
	}
}
