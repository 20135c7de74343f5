package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EntityWriter upserts entity rows into Postgres using multi-row INSERT.
// Entities are stored as JSONB documents keyed by (kind, id); the row is
// always the latest state of the entity, so conflicts overwrite.
type EntityWriter struct {
	db *sql.DB
}

// EntityRow is one serialized entity bound for ledger.entities.
type EntityRow struct {
	Kind string
	ID   string
	Data []byte // JSON-encoded entity
}

func NewEntityWriter(db *sql.DB) *EntityWriter {
	return &EntityWriter{db: db}
}

func (w *EntityWriter) DB() *sql.DB { return w.db }

// WriteEntityBatch upserts a batch of entity rows in one statement.
// Postgres rejects an INSERT whose ON CONFLICT DO UPDATE touches the
// same row twice, so the batch is deduplicated first, keeping the last
// write for each (kind, id).
func (w *EntityWriter) WriteEntityBatch(ctx context.Context, tx *sql.Tx, rows []EntityRow) error {
	rows = dedupeLastWrite(rows)
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.entities (kind, id, data, updated_at) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*3)

	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, NOW())", base+1, base+2, base+3))
		args = append(args, r.Kind, r.ID, r.Data)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteWatermark records the chain coordinates of the last persisted
// batch. The watermark is a single row; readers use it for freshness.
func (w *EntityWriter) WriteWatermark(ctx context.Context, tx *sql.Tx, block, timestamp int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger.watermark (id, block_number, block_timestamp, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    block_timestamp = EXCLUDED.block_timestamp,
		    updated_at = NOW()
	`, block, timestamp)
	return err
}

// ReadWatermark returns the persisted chain coordinates, or zeros when
// nothing has been persisted yet.
func (w *EntityWriter) ReadWatermark(ctx context.Context) (block, timestamp int64, err error) {
	err = w.db.QueryRowContext(ctx,
		`SELECT block_number, block_timestamp FROM ledger.watermark WHERE id = 1`,
	).Scan(&block, &timestamp)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return block, timestamp, err
}

func dedupeLastWrite(rows []EntityRow) []EntityRow {
	if len(rows) < 2 {
		return rows
	}

	type key struct{ kind, id string }
	last := make(map[key]int, len(rows))
	for i, r := range rows {
		last[key{r.Kind, r.ID}] = i
	}

	out := make([]EntityRow, 0, len(last))
	for i, r := range rows {
		if last[key{r.Kind, r.ID}] == i {
			out = append(out, r)
		}
	}
	return out
}
