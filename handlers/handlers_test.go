package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

var _ Library = (*library.LibraryManager)(nil)

type fixture struct {
	mgr    *library.LibraryManager
	server http.Handler
	admin  *library.Member
	alice  *library.Member
	bookID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	adminID, err := mgr.AddMember(ctx, "Root", library.RoleAdmin, "pw")
	require.NoError(t, err)
	aliceID, err := mgr.AddMember(ctx, "Alice", library.RoleMember, "pw")
	require.NoError(t, err)
	bookID, err := mgr.AddBook(ctx, library.Book{Title: "Dune", Author: "Frank Herbert", Genre: "SF", Year: 1965})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		mgr:    mgr,
		server: NewHandler(mgr, logger).Routes(),
		admin:  &library.Member{ID: adminID, Name: "Root"},
		alice:  &library.Member{ID: aliceID, Name: "Alice"},
		bookID: bookID,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, as *library.Member) (int, Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(HeaderMemberID, fmt.Sprint(as.ID))
		req.Header.Set(HeaderMemberName, as.Name)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	assert.Equal(t, rec.Code, res.Status)
	return rec.Code, res
}

func borrowBody(m *library.Member) string {
	return fmt.Sprintf(`{"userId":%d,"userName":%q}`, m.ID, m.Name)
}

func TestBorrowAndReturnOverHTTP(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/books/%d", f.bookID)

	code, res := f.do(t, http.MethodPost, path+"/borrow", borrowBody(f.alice), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Book borrowed successfully.", res.Message)

	code, _ = f.do(t, http.MethodPost, path+"/borrow", borrowBody(f.admin), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, res = f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res.Data.(map[string]any)["available"])

	code, _ = f.do(t, http.MethodPost, path+"/return", borrowBody(f.alice), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, path+"/return", borrowBody(f.alice), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, res = f.do(t, http.MethodGet, fmt.Sprintf("/members/%d/loans", f.alice.ID), "", nil)
	require.Equal(t, http.StatusOK, code)
	loans := res.Data.([]any)
	require.Len(t, loans, 1)
	loan := loans[0].(map[string]any)
	assert.Equal(t, "Dune", loan["title"])
	assert.Equal(t, "returned", loan["status"])
	assert.NotEmpty(t, loan["return_date"])
}

func TestBorrowRejections(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/books/%d/borrow", f.bookID)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown borrower", path, `{"userId":99,"userName":"Nobody"}`, http.StatusNotFound},
		{"name mismatch", path, fmt.Sprintf(`{"userId":%d,"userName":"Mallory"}`, f.alice.ID), http.StatusNotFound},
		{"missing fields", path, `{}`, http.StatusBadRequest},
		{"malformed body", path, `{"userId":`, http.StatusBadRequest},
		{"bad book id", "/books/abc/borrow", borrowBody(f.alice), http.StatusBadRequest},
		{"unknown book", "/books/999/borrow", borrowBody(f.alice), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.want, code)
		})
	}

	book, err := f.mgr.GetBook(context.Background(), f.bookID)
	require.NoError(t, err)
	assert.True(t, book.Available)
}

func TestCatalogMaintenanceRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	body := `{"title":"Emma","author":"Jane Austen","genre":"Novel","year":1815}`

	code, _ := f.do(t, http.MethodPost, "/books", body, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/books", body, &library.Member{ID: f.admin.ID, Name: "Impostor"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/books", body, f.alice)
	assert.Equal(t, http.StatusForbidden, code)

	code, res := f.do(t, http.MethodPost, "/books", body, f.admin)
	require.Equal(t, http.StatusCreated, code)
	created := res.Data.(map[string]any)
	assert.Equal(t, "Emma", created["title"])
	assert.Equal(t, true, created["available"])

	id := int64(created["id"].(float64))
	code, _ = f.do(t, http.MethodPut, fmt.Sprintf("/books/%d", id),
		`{"title":"Emma","author":"Jane Austen","genre":"Classic","year":1815}`, f.admin)
	assert.Equal(t, http.StatusOK, code)

	code, res = f.do(t, http.MethodGet, "/books?q=classic", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res.Data.([]any), 1)

	code, _ = f.do(t, http.MethodPost, "/books", `{"title":"","author":"x"}`, f.admin)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDeleteLentBookIsConflict(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/books/%d", f.bookID)

	code, _ := f.do(t, http.MethodPost, path+"/borrow", borrowBody(f.alice), nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, path, "", f.admin)
	assert.Equal(t, http.StatusConflict, code)

	code, res := f.do(t, http.MethodGet, "/loans/open", "", f.admin)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res.Data.([]any), 1)

	code, _ = f.do(t, http.MethodPost, path+"/return", borrowBody(f.alice), nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, path, "", f.admin)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestImportBooksOverHTTP(t *testing.T) {
	f := newFixture(t)
	body := `[{"title":"A","author":"X","year":2001},{"title":"B","author":"Y","genre":"Poetry","available":false}]`

	code, res := f.do(t, http.MethodPost, "/books/import", body, f.admin)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), res.Data.(map[string]any)["imported"])

	code, res = f.do(t, http.MethodGet, "/books", "", nil)
	require.Equal(t, http.StatusOK, code)
	books := res.Data.([]any)
	require.Len(t, books, 3)
	for _, b := range books {
		assert.Equal(t, true, b.(map[string]any)["available"])
	}

	code, _ = f.do(t, http.MethodPost, "/books/import", `{"title":"not an array"}`, f.admin)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", library.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", library.ErrBorrowerNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", library.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", library.ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", library.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
