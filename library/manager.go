package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// LibraryManager is the lending engine. It owns the borrow/return state
// machine and is a thin façade over the Database for everything else.
type LibraryManager struct {
	db     *Database
	logger *slog.Logger
	now    func() time.Time
}

type managerConfig struct {
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures a LibraryManager.
type Option func(*managerConfig)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStorageTimeout bounds every storage call.
func WithStorageTimeout(d time.Duration) Option {
	return func(c *managerConfig) { c.timeout = d }
}

// WithClock overrides the source of borrow and return timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *managerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	cfg := managerConfig{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultStorageTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := NewDatabase(dbPath, cfg.timeout)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{db: db, logger: cfg.logger, now: cfg.now}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Circulation ------------------

func validateLoanRequest(bookID, borrowerID int64, borrowerName string) error {
	if bookID <= 0 {
		return validationError("book id is required")
	}
	if borrowerID <= 0 {
		return validationError("borrower id is required")
	}
	if strings.TrimSpace(borrowerName) == "" {
		return validationError("borrower name is required")
	}
	return nil
}

// Borrow lends bookID to the borrower identified by (borrowerID,
// borrowerName). The availability flag flip is the only decision point: the
// ledger row is written only after it succeeds, and both changes commit
// together or not at all.
func (lm *LibraryManager) Borrow(ctx context.Context, bookID, borrowerID int64, borrowerName string) (*Transaction, error) {
	if err := validateLoanRequest(bookID, borrowerID, borrowerName); err != nil {
		return nil, err
	}

	var loan *Transaction
	err := lm.db.withTx(ctx, "borrow", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := resolveBorrower(ctx, tx, borrowerID, borrowerName); err != nil {
			return err
		}
		ok, err := markUnavailable(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return guardFailure(ctx, tx, bookID, fmt.Sprintf("book %d is not available or already borrowed", bookID))
		}
		loan, err = openTransaction(ctx, tx, bookID, borrowerID, lm.now())
		return err
	})
	lm.logOutcome(ctx, "borrow", bookID, borrowerID, err)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Return closes the borrower's open loan of bookID and makes the book
// available again. Finding the open ledger row is the decision point; the
// flag flip that follows is a pure effect.
func (lm *LibraryManager) Return(ctx context.Context, bookID, borrowerID int64, borrowerName string) (*Transaction, error) {
	if err := validateLoanRequest(bookID, borrowerID, borrowerName); err != nil {
		return nil, err
	}

	var loan *Transaction
	err := lm.db.withTx(ctx, "return", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := resolveBorrower(ctx, tx, borrowerID, borrowerName); err != nil {
			return err
		}
		var err error
		loan, err = closeTransaction(ctx, tx, bookID, borrowerID, lm.now())
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: book %d is not borrowed by member %d", ErrConflict, bookID, borrowerID)
		}
		if err != nil {
			return err
		}
		ok, err := markAvailable(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return guardFailure(ctx, tx, bookID, fmt.Sprintf("book %d is already available", bookID))
		}
		return nil
	})
	lm.logOutcome(ctx, "return", bookID, borrowerID, err)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ListBorrowed yields the borrower's loan history joined with book metadata.
func (lm *LibraryManager) ListBorrowed(ctx context.Context, borrowerID int64) iter.Seq2[LoanRecord, error] {
	if borrowerID <= 0 {
		return func(yield func(LoanRecord, error) bool) {
			yield(LoanRecord{}, validationError("borrower id is required"))
		}
	}
	return lm.db.ListForBorrower(ctx, borrowerID)
}

// ListOpenLoans returns every book currently lent out.
func (lm *LibraryManager) ListOpenLoans(ctx context.Context) ([]LoanRecord, error) {
	return lm.db.ListOpenLoans(ctx)
}

func (lm *LibraryManager) logOutcome(ctx context.Context, op string, bookID, borrowerID int64, err error) {
	attrs := []any{slog.String("op", op), slog.Int64("book_id", bookID), slog.Int64("borrower_id", borrowerID)}
	switch {
	case err == nil:
		lm.logger.InfoContext(ctx, op+" succeeded", attrs...)
	case IsRetryable(err):
		lm.logger.ErrorContext(ctx, op+" failed", append(attrs, slog.Any("error", err))...)
	default:
		lm.logger.InfoContext(ctx, op+" rejected", append(attrs, slog.String("reason", err.Error()))...)
	}
}

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, b Book) (int64, error) {
	id, err := lm.db.AddBook(ctx, b)
	if err == nil {
		lm.logger.InfoContext(ctx, "book added", slog.Int64("book_id", id), slog.String("title", b.Title))
	}
	return id, err
}

func (lm *LibraryManager) EditBook(ctx context.Context, b Book) error {
	err := lm.db.EditBook(ctx, b)
	if err == nil {
		lm.logger.InfoContext(ctx, "book edited", slog.Int64("book_id", b.ID))
	}
	return err
}

// DeleteBook removes an available book; lent books are rejected with ErrConflict.
func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	err := lm.db.DeleteBook(ctx, id)
	if err != nil {
		lm.logger.InfoContext(ctx, "book not deleted", slog.Int64("book_id", id), slog.String("reason", err.Error()))
		return err
	}
	lm.logger.InfoContext(ctx, "book deleted", slog.Int64("book_id", id))
	return nil
}

// ImportBooks bulk-loads books; either all rows are stored or none.
func (lm *LibraryManager) ImportBooks(ctx context.Context, books []Book) (int, error) {
	n, err := lm.db.ImportBooks(ctx, books)
	if err == nil {
		lm.logger.InfoContext(ctx, "books imported", slog.Int("count", n))
	}
	return n, err
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return lm.db.GetAllBooks(ctx)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	return lm.db.SearchBooks(ctx, q)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, name string, role Role, password string) (int64, error) {
	id, err := lm.db.AddMember(ctx, name, role, password)
	if err == nil {
		lm.logger.InfoContext(ctx, "member added", slog.Int64("member_id", id), slog.String("role", string(role)))
	}
	return id, err
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.db.GetMember(ctx, id)
}

func (lm *LibraryManager) GetAllMembers(ctx context.Context) ([]*Member, error) {
	return lm.db.GetAllMembers(ctx)
}

func (lm *LibraryManager) ResolveBorrower(ctx context.Context, id int64, name string) (*Member, error) {
	return lm.db.ResolveBorrower(ctx, id, name)
}

func (lm *LibraryManager) AuthenticateMember(ctx context.Context, id int64, password string) (*Member, error) {
	return lm.db.AuthenticateMember(ctx, id, password)
}

func (lm *LibraryManager) ResetMemberPassword(ctx context.Context, id int64, password string) error {
	return lm.db.ResetMemberPassword(ctx, id, password)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-25s %-15s %-6d %-10t", b.ID, truncate(b.Title, 30), truncate(b.Author, 25),
		truncate(b.Genre, 15), b.Year, b.Available)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
