// Package orderlog keeps a local record of placed orders. The site's
// confirmation page is the only moment the order id and its loan
// breakdown are visible together, so the CLI writes them down here.
package orderlog

import (
	"context"
	"database/sql"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	_, err := db.Exec(Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{db: db}, nil
}

func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	return NewStore(db)
}

func (s Store) Close() error {
	return s.db.Close()
}

type Record struct {
	OrderID   int
	Portfolio string
	PlacedAt  time.Time
	// Loans maps loan id to the invested dollar amount.
	Loans map[int]float64
}

func (s Store) RecordOrder(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO orders (order_id, portfolio, placed_at) VALUES (?, ?, ?)`,
		rec.OrderID, rec.Portfolio, rec.PlacedAt.Unix(),
	)
	if err != nil {
		return err
	}
	for loanID, amount := range rec.Loans {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO order_loans (order_id, loan_id, amount) VALUES (?, ?, ?)`,
			rec.OrderID, loanID, amount,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s Store) Orders(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT order_id, portfolio, placed_at FROM orders ORDER BY placed_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var placedAt int64
		err = rows.Scan(&rec.OrderID, &rec.Portfolio, &placedAt)
		if err != nil {
			return nil, err
		}
		rec.PlacedAt = time.Unix(placedAt, 0)
		rec.Loans = map[int]float64{}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		loans, err := s.db.QueryContext(
			ctx,
			`SELECT loan_id, amount FROM order_loans WHERE order_id = ?`,
			out[i].OrderID,
		)
		if err != nil {
			return nil, err
		}
		for loans.Next() {
			var loanID int
			var amount float64
			err = loans.Scan(&loanID, &amount)
			if err != nil {
				loans.Close()
				return nil, err
			}
			out[i].Loans[loanID] = amount
		}
		if err := loans.Err(); err != nil {
			loans.Close()
			return nil, err
		}
		loans.Close()
	}

	return out, nil
}
