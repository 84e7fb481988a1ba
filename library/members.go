package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// AddMember registers a member with a bcrypt-hashed password.
func (d *Database) AddMember(ctx context.Context, name string, role Role, password string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, validationError("member name is required")
	}
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return 0, validationError("unknown role %q", role)
	}
	if strings.TrimSpace(password) == "" {
		return 0, validationError("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := d.bound(ctx)
	defer cancel()

	res, err := d.addMemberStmt.ExecContext(ctx, name, string(role), string(hash))
	if err != nil {
		return 0, classifyStorageError("add member", err)
	}
	return res.LastInsertId()
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	var m Member
	err := d.db.GetContext(ctx, &m, `SELECT id,name,role,password_hash FROM members WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classifyStorageError("get member", err)
	}
	return &m, nil
}

// GetAllMembers returns all members.
func (d *Database) GetAllMembers(ctx context.Context) ([]*Member, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	members := []*Member{}
	if err := d.db.SelectContext(ctx, &members, `SELECT id,name,role,password_hash FROM members ORDER BY id`); err != nil {
		return nil, classifyStorageError("list members", err)
	}
	return members, nil
}

// ResolveBorrower treats (id, name) as a joint credential and returns the
// matching member, or ErrBorrowerNotFound.
func (d *Database) ResolveBorrower(ctx context.Context, id int64, name string) (*Member, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	return resolveBorrower(ctx, d.db, id, name)
}

func resolveBorrower(ctx context.Context, q sqlx.QueryerContext, id int64, name string) (*Member, error) {
	var m Member
	err := sqlx.GetContext(ctx, q, &m, `SELECT id,name,role,password_hash FROM members WHERE id=? AND name=?`,
		id, strings.TrimSpace(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("borrower %d: %w", id, ErrBorrowerNotFound)
	}
	if err != nil {
		return nil, classifyStorageError("resolve borrower", err)
	}
	return &m, nil
}

// AuthenticateMember checks password against the stored hash.
func (d *Database) AuthenticateMember(ctx context.Context, id int64, password string) (*Member, error) {
	m, err := d.GetMember(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("member %d: %w", id, ErrBorrowerNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid password for member %d: %w", id, ErrBorrowerNotFound)
	}
	return m, nil
}

// ResetMemberPassword replaces a member's password hash.
func (d *Database) ResetMemberPassword(ctx context.Context, id int64, password string) error {
	if strings.TrimSpace(password) == "" {
		return validationError("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := d.bound(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE members SET password_hash=? WHERE id=?`, string(hash), id)
	if err != nil {
		return classifyStorageError("reset password", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyStorageError("reset password", err)
	}
	if n == 0 {
		return fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	return nil
}
