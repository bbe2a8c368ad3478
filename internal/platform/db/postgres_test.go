package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUndefinedTable(t *testing.T) {
	missing := &pgconn.PgError{Code: "42P01", Message: `relation "stockgrid_locations" does not exist`}
	require.True(t, IsUndefinedTable(missing))
	require.True(t, IsUndefinedTable(fmt.Errorf("load: %w", missing)))
	require.False(t, IsUndefinedTable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUndefinedTable(errors.New("boom")))
	require.False(t, IsUndefinedTable(nil))
}
