package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

func IsForeignKeyViolation(err error) bool { return pgCode(err) == codeForeignKeyViolation }

// IsInvalidText is raised for malformed literals, e.g. a bad uuid.
func IsInvalidText(err error) bool { return pgCode(err) == codeInvalidText }
