package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
)

// RegisterMember creates a member account. Registration with an email
// that is already taken fails with ErrDuplicateMember.
func RegisterMember(ctx context.Context, db *sql.DB, email, name, password, address string) (*models.Member, error) {
	member := &models.Member{}

	query := `
		INSERT INTO members (email, name, password, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, email, name, password, address, role, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, email, name, password, address).Scan(
		&member.ID,
		&member.Email,
		&member.Name,
		&member.Password,
		&member.Address,
		&member.Role,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrDuplicateMember
		}
		return nil, fmt.Errorf("register member: %w", err)
	}

	return member, nil
}

func GetMemberByEmail(ctx context.Context, db *sql.DB, email string) (*models.Member, error) {
	member := &models.Member{}

	query := `
		SELECT id, email, name, password, address, role, created_at, updated_at
		FROM members
		WHERE email = $1`

	err := db.QueryRowContext(ctx, query, email).Scan(
		&member.ID,
		&member.Email,
		&member.Name,
		&member.Password,
		&member.Address,
		&member.Role,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}

	return member, nil
}

// querier is the subset of *sql.DB and *sql.Tx the read helpers need,
// so the same code runs standalone or inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// memberIDByEmail resolves the authenticated identity supplied by the
// caller into a member id. Cart and order operations trust the email
// without re-verifying authentication.
func memberIDByEmail(ctx context.Context, q querier, email string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM members WHERE email = $1`, email).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrMemberNotFound
		}
		return 0, fmt.Errorf("resolve member: %w", err)
	}
	return id, nil
}
