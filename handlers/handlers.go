// Package handlers exposes the lending engine over HTTP.
package handlers

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"library-lending/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Library is the subset of the lending engine the HTTP layer calls.
type Library interface {
	Borrow(ctx context.Context, bookID, borrowerID int64, borrowerName string) (*library.Transaction, error)
	Return(ctx context.Context, bookID, borrowerID int64, borrowerName string) (*library.Transaction, error)
	ListBorrowed(ctx context.Context, borrowerID int64) iter.Seq2[library.LoanRecord, error]
	ListOpenLoans(ctx context.Context) ([]library.LoanRecord, error)

	AddBook(ctx context.Context, b library.Book) (int64, error)
	EditBook(ctx context.Context, b library.Book) error
	DeleteBook(ctx context.Context, id int64) error
	ImportBooks(ctx context.Context, books []library.Book) (int, error)
	GetBook(ctx context.Context, id int64) (*library.Book, error)
	GetAllBooks(ctx context.Context) ([]*library.Book, error)
	SearchBooks(ctx context.Context, q string) ([]*library.Book, error)

	ResolveBorrower(ctx context.Context, id int64, name string) (*library.Member, error)
}

// Result is the body of every response.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Handler serves the lending API.
type Handler struct {
	lib    Library
	logger *slog.Logger
}

// NewHandler creates a Handler backed by lib.
func NewHandler(lib Library, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{lib: lib, logger: logger}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.ListBooks)
		r.Get("/{id}", h.ShowBook)
		r.Post("/{id}/borrow", h.BorrowBook)
		r.Post("/{id}/return", h.ReturnBook)

		// Catalog maintenance (admins only)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/", h.CreateBook)
			r.Post("/import", h.ImportBooks)
			r.Put("/{id}", h.UpdateBook)
			r.Delete("/{id}", h.DeleteBook)
		})
	})

	r.Get("/members/{id}/loans", h.ListLoans)

	r.With(h.RequireAdmin).Get("/loans/open", h.ListOpenLoans)

	return r
}

type borrowRequest struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// BorrowBook handles POST /books/{id}/borrow.
func (h *Handler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	h.circulate(w, r, "Book borrowed successfully.", h.lib.Borrow)
}

// ReturnBook handles POST /books/{id}/return.
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	h.circulate(w, r, "Book returned successfully.", h.lib.Return)
}

type circulationFunc func(ctx context.Context, bookID, borrowerID int64, borrowerName string) (*library.Transaction, error)

func (h *Handler) circulate(w http.ResponseWriter, r *http.Request, okMessage string, op circulationFunc) {
	bookID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResult(w, http.StatusBadRequest, "Invalid request. All fields are required.", nil)
		return
	}

	loan, err := op(r.Context(), bookID, req.UserID, req.UserName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, http.StatusOK, okMessage, loan)
}

// ListBooks handles GET /books, optionally filtered by ?q=.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	var (
		books []*library.Book
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		books, err = h.lib.SearchBooks(r.Context(), q)
	} else {
		books, err = h.lib.GetAllBooks(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, http.StatusOK, "OK", books)
}

// ShowBook handles GET /books/{id}.
func (h *Handler) ShowBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	book, err := h.lib.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, http.StatusOK, "OK", book)
}

// CreateBook handles POST /books.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var b library.Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		h.writeResult(w, http.StatusBadRequest, "Invalid book payload.", nil)
		return
	}
	id, err := h.lib.AddBook(r.Context(), b)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	book, err := h.lib.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "book added", id)
	h.writeResult(w, http.StatusCreated, "Book added.", book)
}

// UpdateBook handles PUT /books/{id}.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var b library.Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		h.writeResult(w, http.StatusBadRequest, "Invalid book payload.", nil)
		return
	}
	b.ID = id
	if err := h.lib.EditBook(r.Context(), b); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "book updated", id)
	h.writeResult(w, http.StatusOK, "Book updated.", nil)
}

// DeleteBook handles DELETE /books/{id}.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.lib.DeleteBook(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "book deleted", id)
	h.writeResult(w, http.StatusOK, "Book deleted.", nil)
}

// ImportBooks handles POST /books/import with a JSON array of books.
func (h *Handler) ImportBooks(w http.ResponseWriter, r *http.Request) {
	var books []library.Book
	if err := json.NewDecoder(r.Body).Decode(&books); err != nil {
		h.writeResult(w, http.StatusBadRequest, "Invalid import payload.", nil)
		return
	}
	n, err := h.lib.ImportBooks(r.Context(), books)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "books imported", 0, slog.Int("count", n))
	h.writeResult(w, http.StatusOK, "Books imported successfully", map[string]int{"imported": n})
}

// ListLoans handles GET /members/{id}/loans.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	loans := []library.LoanRecord{}
	for rec, err := range h.lib.ListBorrowed(r.Context(), id) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		loans = append(loans, rec)
	}
	h.writeResult(w, http.StatusOK, "OK", loans)
}

// ListOpenLoans handles GET /loans/open.
func (h *Handler) ListOpenLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.lib.ListOpenLoans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResult(w, http.StatusOK, "OK", loans)
}

// audit records which admin changed the catalog.
func (h *Handler) audit(r *http.Request, action string, bookID int64, extra ...any) {
	attrs := []any{slog.String("request_id", middleware.GetReqID(r.Context()))}
	if m, ok := MemberFromContext(r.Context()); ok {
		attrs = append(attrs, slog.Int64("admin_id", m.ID))
	}
	if bookID > 0 {
		attrs = append(attrs, slog.Int64("book_id", bookID))
	}
	h.logger.InfoContext(r.Context(), action, append(attrs, extra...)...)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeResult(w, http.StatusBadRequest, "Invalid id.", nil)
		return 0, false
	}
	return id, true
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, library.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrBorrowerNotFound), errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, library.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		message = "Internal server error."
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeResult(w, status, message, nil)
}

func (h *Handler) writeResult(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Result{Status: status, Message: message, Data: data}); err != nil {
		h.logger.Warn("write response", slog.Any("error", err))
	}
}
