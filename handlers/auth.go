package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"library-lending/library"
)

// Headers identifying the acting member for catalog maintenance.
const (
	HeaderMemberID   = "X-Member-ID"
	HeaderMemberName = "X-Member-Name"
)

type contextKey string

const memberKey contextKey = "member"

// RequireAdmin resolves the acting member from request headers and lets the
// request through only for admins.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderMemberID), 10, 64)
		name := r.Header.Get(HeaderMemberName)
		if err != nil || id <= 0 || name == "" {
			h.writeResult(w, http.StatusUnauthorized, "Member identification required.", nil)
			return
		}

		member, err := h.lib.ResolveBorrower(r.Context(), id, name)
		if errors.Is(err, library.ErrBorrowerNotFound) {
			h.writeResult(w, http.StatusUnauthorized, "Member not found or details do not match.", nil)
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if member.Role != library.RoleAdmin {
			h.writeResult(w, http.StatusForbidden, "Administrator role required.", nil)
			return
		}

		ctx := context.WithValue(r.Context(), memberKey, member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MemberFromContext returns the member resolved by RequireAdmin.
func MemberFromContext(ctx context.Context) (*library.Member, bool) {
	m, ok := ctx.Value(memberKey).(*library.Member)
	return m, ok
}
