package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, ErrLockTimeout) {
		return ErrorClassTransient
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used to map duplicate registrations.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var (
	ErrMemberNotFound        = errors.New("member not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrProductImageNotFound  = errors.New("product image not found")
	ErrCartLineNotFound      = errors.New("cart line not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOutOfStock            = errors.New("out of stock")
	ErrOrderAlreadyCancelled = errors.New("order already cancelled")
	ErrDuplicateMember       = errors.New("member already registered")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrVersionConflict       = errors.New("version conflict")
	ErrLockTimeout           = errors.New("lock timeout")
)
