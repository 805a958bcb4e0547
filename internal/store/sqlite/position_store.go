package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quantfish/polyarb/internal/domain"
)

// PositionStore implements domain.PositionStore using SQLite.
type PositionStore struct {
	db *sql.DB
}

// NewPositionStore creates a PositionStore backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{db: client.DB()}
}

const positionSelectCols = `id, condition_id, side, token_id, size, entry_price,
	status, tag, strategy, opened_at, closed_at, exit_price, realized_pnl`

func scanPositionRow(row *sql.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.ConditionID, &side, &p.TokenID,
		&p.Size, &p.EntryPrice,
		&status, &p.Tag, &p.Strategy,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, status string

		if err := rows.Scan(
			&p.ID, &p.ConditionID, &side, &p.TokenID,
			&p.Size, &p.EntryPrice,
			&status, &p.Tag, &p.Strategy,
			&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL,
		); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, condition_id, side, token_id, size, entry_price,
			status, tag, strategy, opened_at, closed_at, exit_price, realized_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ConditionID, string(p.Side), p.TokenID,
		p.Size, p.EntryPrice,
		string(p.Status), p.Tag, p.Strategy,
		p.OpenedAt, p.ClosedAt, p.ExitPrice, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			condition_id = ?,
			side         = ?,
			token_id     = ?,
			size         = ?,
			entry_price  = ?,
			status       = ?,
			tag          = ?,
			strategy     = ?,
			closed_at    = ?,
			exit_price   = ?,
			realized_pnl = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		p.ConditionID, string(p.Side), p.TokenID,
		p.Size, p.EntryPrice,
		string(p.Status), p.Tag, p.Strategy,
		p.ClosedAt, p.ExitPrice, p.RealizedPnL,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions, most recently opened first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns closed positions with optional time filtering on the
// close timestamp, most recently closed first.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'closed'`
	var args []any

	if opts.Since != nil {
		query += ` AND closed_at >= ?`
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += ` AND closed_at <= ?`
		args = append(args, *opts.Until)
	}
	query += ` ORDER BY closed_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListAll returns every position in open order.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan positions: %w", err)
	}
	return positions, nil
}
