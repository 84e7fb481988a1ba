package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// importBatchSize keeps each multi-row insert well under SQLite's bound
// parameter limit.
const importBatchSize = 200

var bookColumns = []any{"id", "title", "author", "genre", "year", "available"}

func validateBook(b Book) error {
	if strings.TrimSpace(b.Title) == "" {
		return validationError("title is required")
	}
	if strings.TrimSpace(b.Author) == "" {
		return validationError("author is required")
	}
	if b.Year < 0 {
		return validationError("year must not be negative")
	}
	return nil
}

// AddBook inserts a new, available book and returns its id.
func (d *Database) AddBook(ctx context.Context, b Book) (int64, error) {
	if err := validateBook(b); err != nil {
		return 0, err
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()

	res, err := d.addBookStmt.ExecContext(ctx, strings.TrimSpace(b.Title), strings.TrimSpace(b.Author),
		strings.TrimSpace(b.Genre), b.Year)
	if err != nil {
		return 0, classifyStorageError("add book", err)
	}
	return res.LastInsertId()
}

// EditBook replaces a book's descriptive metadata. Availability is left to
// the lending engine.
func (d *Database) EditBook(ctx context.Context, b Book) error {
	if b.ID <= 0 {
		return validationError("book id is required")
	}
	if err := validateBook(b); err != nil {
		return err
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE books SET title=?, author=?, genre=?, year=? WHERE id=?`,
		strings.TrimSpace(b.Title), strings.TrimSpace(b.Author), strings.TrimSpace(b.Genre), b.Year, b.ID)
	if err != nil {
		return classifyStorageError("edit book", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyStorageError("edit book", err)
	}
	if n == 0 {
		return fmt.Errorf("book %d: %w", b.ID, ErrNotFound)
	}
	return nil
}

// DeleteBook removes a book that is not currently lent. A lent book yields
// ErrConflict; an unknown id yields ErrNotFound.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	if id <= 0 {
		return validationError("book id is required")
	}
	return d.withTx(ctx, "delete book", func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id=? AND available=1`, id)
		if err != nil {
			return classifyStorageError("delete book", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classifyStorageError("delete book", err)
		}
		if n == 1 {
			return nil
		}
		return guardFailure(ctx, tx, id, fmt.Sprintf("book %d is lent and cannot be deleted", id))
	})
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	var b Book
	err := d.db.GetContext(ctx, &b, `SELECT id,title,author,genre,year,available FROM books WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classifyStorageError("get book", err)
	}
	return &b, nil
}

// GetAllBooks returns every book ordered by id.
func (d *Database) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return d.selectBooks(ctx, dialect.From("books").Select(bookColumns...).Order(goqu.C("id").Asc()))
}

// SearchBooks matches q as a substring of title, author or genre. SQLite's
// LIKE is case-insensitive for ASCII.
func (d *Database) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Book{}, nil
	}
	pattern := "%" + q + "%"
	ds := dialect.From("books").Select(bookColumns...).
		Where(goqu.Or(
			goqu.C("title").Like(pattern),
			goqu.C("author").Like(pattern),
			goqu.C("genre").Like(pattern),
		)).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	return d.selectBooks(ctx, ds)
}

func (d *Database) selectBooks(ctx context.Context, ds *goqu.SelectDataset) ([]*Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()

	books := []*Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, classifyStorageError("list books", err)
	}
	return books, nil
}

// ImportBooks inserts books in batches inside one transaction: either every
// row lands or none does. All imported books start available.
func (d *Database) ImportBooks(ctx context.Context, books []Book) (int, error) {
	for i, b := range books {
		if err := validateBook(b); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	if len(books) == 0 {
		return 0, nil
	}

	err := d.withTx(ctx, "import books", func(ctx context.Context, tx *sqlx.Tx) error {
		for start := 0; start < len(books); start += importBatchSize {
			end := min(start+importBatchSize, len(books))
			rows := make([]any, 0, end-start)
			for _, b := range books[start:end] {
				rows = append(rows, goqu.Record{
					"title":     strings.TrimSpace(b.Title),
					"author":    strings.TrimSpace(b.Author),
					"genre":     strings.TrimSpace(b.Genre),
					"year":      b.Year,
					"available": true,
				})
			}
			query, args, err := dialect.Insert("books").Rows(rows...).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("build import query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return classifyStorageError("import books", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(books), nil
}

// ---------------------------------------------------------------------------
// Availability guards
// ---------------------------------------------------------------------------

// markUnavailable flips available from true to false in one conditional
// update. It reports false, without changing anything, if the book was
// already lent or does not exist.
func markUnavailable(ctx context.Context, q sqlx.ExecerContext, bookID int64) (bool, error) {
	return flipAvailability(ctx, q, bookID, true)
}

// markAvailable is the inverse of markUnavailable.
func markAvailable(ctx context.Context, q sqlx.ExecerContext, bookID int64) (bool, error) {
	return flipAvailability(ctx, q, bookID, false)
}

func flipAvailability(ctx context.Context, q sqlx.ExecerContext, bookID int64, from bool) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE books SET available=? WHERE id=? AND available=?`, !from, bookID, from)
	if err != nil {
		return false, classifyStorageError("update availability", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classifyStorageError("update availability", err)
	}
	return n == 1, nil
}

// guardFailure explains why a conditional update on a book touched no rows.
// It runs after the decision has been made and only picks the error kind.
func guardFailure(ctx context.Context, q sqlx.QueryerContext, bookID int64, conflict string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID); err != nil {
		return classifyStorageError("check book", err)
	}
	if !exists {
		return fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	return fmt.Errorf("%w: %s", ErrConflict, conflict)
}
