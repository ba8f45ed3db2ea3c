package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

func TestClassifyViolation(t *testing.T) {
	cases := map[string]struct {
		err  error
		want violation
	}{
		"nil":                {nil, violationNone},
		"gorm duplicate":     {gorm.ErrDuplicatedKey, violationUnique},
		"gorm foreign key":   {fmt.Errorf("insert: %w", gorm.ErrForeignKeyViolated), violationForeignKey},
		"postgres unique":    {&pgconn.PgError{Code: "23505"}, violationUnique},
		"postgres reference": {&pgconn.PgError{Code: "23503"}, violationForeignKey},
		"mysql duplicate":    {&mysql.MySQLError{Number: 1062}, violationUnique},
		"mysql reference":    {&mysql.MySQLError{Number: 1452}, violationForeignKey},
		"sqlite unique":      {errors.New("UNIQUE constraint failed: profiles.email"), violationUnique},
		"sqlite reference":   {errors.New("FOREIGN KEY constraint failed"), violationForeignKey},
		"other":              {errors.New("database is locked"), violationNone},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, classifyViolation(tc.err))
		})
	}
}

func TestWriteFailure(t *testing.T) {
	require.NoError(t, writeFailure(nil, "ticket 1"))

	err := writeFailure(errors.New("FOREIGN KEY constraint failed"), "ticket 7")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Contains(t, err.Error(), "ticket 7 not found")

	err = writeFailure(errors.New("FOREIGN KEY constraint failed"), "")
	require.ErrorIs(t, err, apperrors.ErrStoreFailure)

	err = writeFailure(errors.New("disk I/O error"), "ticket 7")
	require.ErrorIs(t, err, apperrors.ErrStoreFailure)
	require.Contains(t, err.Error(), "disk I/O error")
}
