package query

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"PerpIndexer/internal/ledger"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Service provides read-only access to the persisted entity store.
// Entities are served as their stored JSON documents; every response is
// stamped with the persistence watermark for freshness semantics.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Watermark returns the chain coordinates of the last persisted batch.
func (s *Service) Watermark(ctx context.Context) (block, timestamp int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT block_number, block_timestamp FROM ledger.watermark WHERE id = 1`,
	).Scan(&block, &timestamp)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return block, timestamp, err
}

// Account returns one account document by user address.
func (s *Service) Account(ctx context.Context, address string) (json.RawMessage, error) {
	return s.getEntity(ctx, ledger.KindAccount, ledger.AccountID(address))
}

// Pool returns one pool document by market address.
func (s *Service) Pool(ctx context.Context, marketAddress string) (json.RawMessage, error) {
	return s.getEntity(ctx, ledger.KindPool, ledger.PoolID(marketAddress))
}

// Position returns one position document by id.
func (s *Service) Position(ctx context.Context, id string) (json.RawMessage, error) {
	return s.getEntity(ctx, ledger.KindPosition, id)
}

// AccountPositions returns an account's positions, newest slot first.
func (s *Service) AccountPositions(ctx context.Context, address string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM ledger.entities
		WHERE kind = $1 AND data->>'account' = $2
		ORDER BY id DESC
		LIMIT $3
	`, string(ledger.KindPosition), ledger.AccountID(address), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDocs(rows)
}

// PositionSnapshots returns a position's audit history in chain order.
func (s *Service) PositionSnapshots(ctx context.Context, positionID string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM ledger.entities
		WHERE kind = $1 AND data->>'position' = $2
		ORDER BY (data->>'block_number')::bigint, (data->>'log_index')::bigint
		LIMIT $3
	`, string(ledger.KindPositionSnapshot), positionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDocs(rows)
}

// FundingHistory returns a pool's funding snapshots ordered by index.
func (s *Service) FundingHistory(ctx context.Context, marketAddress string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM ledger.entities
		WHERE kind = $1 AND data->>'pool' = $2
		ORDER BY (data->>'index')::bigint DESC
		LIMIT $3
	`, string(ledger.KindFundingRate), ledger.PoolID(marketAddress), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDocs(rows)
}

// Protocol returns the global aggregate document.
func (s *Service) Protocol(ctx context.Context) (json.RawMessage, error) {
	return s.getEntity(ctx, ledger.KindProtocol, "protocol")
}

func (s *Service) getEntity(ctx context.Context, kind ledger.EntityKind, id string) (json.RawMessage, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ledger.entities WHERE kind = $1 AND id = $2`,
		string(kind), id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func collectDocs(rows *sql.Rows) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		docs = append(docs, json.RawMessage(data))
	}
	return docs, rows.Err()
}
