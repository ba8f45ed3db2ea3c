package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

type violation int

const (
	violationNone violation = iota
	violationUnique
	violationForeignKey
)

// classifyViolation maps vendor constraint errors from sqlite, postgres and mysql onto a
// small set of kinds the services react to.
func classifyViolation(err error) violation {
	if err == nil {
		return violationNone
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return violationUnique
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return violationForeignKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		switch pgErr.Code {
		case "23505":
			return violationUnique
		case "23503":
			return violationForeignKey
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		switch myErr.Number {
		case 1062:
			return violationUnique
		case 1452:
			return violationForeignKey
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "foreign key"):
		return violationForeignKey
	case strings.Contains(lower, "unique"), strings.Contains(lower, "duplicate"):
		return violationUnique
	}
	return violationNone
}

// writeFailure converts a failed insert into the error surfaced to the caller. A dangling
// reference becomes a not-found for missing; everything else is reported verbatim.
func writeFailure(err error, missing string) error {
	if err == nil {
		return nil
	}
	if missing != "" && classifyViolation(err) == violationForeignKey {
		return apperrors.ErrNotFound.WithMessage(missing + " not found").WithInternal(err)
	}
	return apperrors.StoreFailure(err)
}
