package library

import "time"

// Role distinguishes catalog administrators from ordinary borrowers.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// TransactionStatus is the state of a ledger row.
type TransactionStatus string

const (
	StatusBorrowed TransactionStatus = "borrowed"
	StatusReturned TransactionStatus = "returned"
)

// Book represents catalog metadata and the current availability of a copy.
// Available is owned by the lending engine: it is true iff no ledger row for
// the book is in borrowed status.
type Book struct {
	ID        int64  `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	Author    string `db:"author" json:"author"`
	Genre     string `db:"genre" json:"genre"`
	Year      int    `db:"year" json:"year"`
	Available bool   `db:"available" json:"available"`
}

// Member represents a registered borrower.
type Member struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Role         Role   `db:"role" json:"role"`
	PasswordHash string `db:"password_hash" json:"-"` // Don't serialize password hash
}

// Transaction is a single ledger entry. Rows are never deleted.
type Transaction struct {
	ID         int64             `json:"id"`
	Ref        string            `json:"ref"`
	BookID     int64             `json:"book_id"`
	BorrowerID int64             `json:"borrower_id"`
	BorrowDate time.Time         `json:"borrow_date"`
	ReturnDate *time.Time        `json:"return_date,omitempty"`
	Status     TransactionStatus `json:"status"`
}

// LoanRecord is a ledger row joined with the metadata of the book it
// references. Book fields are zero when the book has since been deleted.
type LoanRecord struct {
	Transaction
	Title  string `json:"title"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
	Year   int    `json:"year"`
}
