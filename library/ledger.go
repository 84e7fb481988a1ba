package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// loanRow is the scan target for ledger queries joined with books.
type loanRow struct {
	ID         int64        `db:"id"`
	Ref        string       `db:"ref"`
	BookID     int64        `db:"book_id"`
	BorrowerID int64        `db:"borrower_id"`
	BorrowDate time.Time    `db:"borrow_date"`
	ReturnDate sql.NullTime `db:"return_date"`
	Status     string       `db:"status"`
	Title      string       `db:"title"`
	Author     string       `db:"author"`
	Genre      string       `db:"genre"`
	Year       int          `db:"year"`
}

func (r loanRow) record() LoanRecord {
	rec := LoanRecord{
		Transaction: Transaction{
			ID:         r.ID,
			Ref:        r.Ref,
			BookID:     r.BookID,
			BorrowerID: r.BorrowerID,
			BorrowDate: r.BorrowDate,
			Status:     TransactionStatus(r.Status),
		},
		Title:  r.Title,
		Author: r.Author,
		Genre:  r.Genre,
		Year:   r.Year,
	}
	if r.ReturnDate.Valid {
		t := r.ReturnDate.Time
		rec.ReturnDate = &t
	}
	return rec
}

// openTransaction appends a borrowed row. It performs no uniqueness check of
// its own; callers pair it with markUnavailable.
func openTransaction(ctx context.Context, q sqlx.ExecerContext, bookID, borrowerID int64, at time.Time) (*Transaction, error) {
	t := &Transaction{
		Ref:        uuid.NewString(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		BorrowDate: at.UTC(),
		Status:     StatusBorrowed,
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO transactions(ref,book_id,borrower_id,borrow_date,status) VALUES(?,?,?,?,?)`,
		t.Ref, t.BookID, t.BorrowerID, t.BorrowDate, string(t.Status))
	if err != nil {
		return nil, classifyStorageError("open transaction", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return nil, classifyStorageError("open transaction", err)
	}
	return t, nil
}

// closeTransaction marks the open row for (bookID, borrowerID) returned and
// gives it back. ErrNotFound means no such loan is open.
func closeTransaction(ctx context.Context, q sqlx.ExtContext, bookID, borrowerID int64, at time.Time) (*Transaction, error) {
	var row loanRow
	err := sqlx.GetContext(ctx, q, &row, `
        SELECT id, ref, book_id, borrower_id, borrow_date, return_date, status
        FROM transactions
        WHERE book_id=? AND borrower_id=? AND status='borrowed'`, bookID, borrowerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open loan of book %d by borrower %d: %w", bookID, borrowerID, ErrNotFound)
	}
	if err != nil {
		return nil, classifyStorageError("find open transaction", err)
	}

	returned := at.UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET status='returned', return_date=? WHERE id=? AND status='borrowed'`,
		returned, row.ID)
	if err != nil {
		return nil, classifyStorageError("close transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classifyStorageError("close transaction", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("open loan of book %d by borrower %d: %w", bookID, borrowerID, ErrNotFound)
	}

	t := row.record().Transaction
	t.Status = StatusReturned
	t.ReturnDate = &returned
	return &t, nil
}

func loanQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("transactions").As("t")).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("t.book_id")))).
		Select(
			goqu.I("t.id").As("id"),
			goqu.I("t.ref").As("ref"),
			goqu.I("t.book_id").As("book_id"),
			goqu.I("t.borrower_id").As("borrower_id"),
			goqu.I("t.borrow_date").As("borrow_date"),
			goqu.I("t.return_date").As("return_date"),
			goqu.I("t.status").As("status"),
			goqu.COALESCE(goqu.I("b.title"), "").As("title"),
			goqu.COALESCE(goqu.I("b.author"), "").As("author"),
			goqu.COALESCE(goqu.I("b.genre"), "").As("genre"),
			goqu.COALESCE(goqu.I("b.year"), 0).As("year"),
		).
		Order(goqu.I("t.borrow_date").Asc(), goqu.I("t.id").Asc())
}

// ListForBorrower yields the borrower's ledger rows, oldest first. Nothing
// is read until the sequence is ranged over, and every range re-runs the
// query, so the sequence can be consumed more than once. A storage failure
// is yielded as the final element.
func (d *Database) ListForBorrower(ctx context.Context, borrowerID int64) iter.Seq2[LoanRecord, error] {
	return d.streamLoans(ctx, loanQuery().Where(goqu.I("t.borrower_id").Eq(borrowerID)))
}

// ListOpenLoans returns every outstanding loan.
func (d *Database) ListOpenLoans(ctx context.Context) ([]LoanRecord, error) {
	loans := []LoanRecord{}
	for rec, err := range d.streamLoans(ctx, loanQuery().Where(goqu.I("t.status").Eq(string(StatusBorrowed)))) {
		if err != nil {
			return nil, err
		}
		loans = append(loans, rec)
	}
	return loans, nil
}

func (d *Database) streamLoans(ctx context.Context, ds *goqu.SelectDataset) iter.Seq2[LoanRecord, error] {
	return func(yield func(LoanRecord, error) bool) {
		query, args, err := ds.Prepared(true).ToSQL()
		if err != nil {
			yield(LoanRecord{}, fmt.Errorf("build loan query: %w", err))
			return
		}

		ctx, cancel := d.bound(ctx)
		defer cancel()

		rows, err := d.db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(LoanRecord{}, classifyStorageError("list loans", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row loanRow
			if err := rows.StructScan(&row); err != nil {
				yield(LoanRecord{}, classifyStorageError("scan loan", err))
				return
			}
			if !yield(row.record(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(LoanRecord{}, classifyStorageError("list loans", err))
		}
	}
}
