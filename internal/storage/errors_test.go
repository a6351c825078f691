package storage

import (
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, isUndefinedTable(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, isUndefinedTable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42P01"})))
	assert.False(t, isUndefinedTable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUndefinedTable(io.EOF))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicate(&pgconn.PgError{Code: "42P01"}))
}

func TestIsUnreachable(t *testing.T) {
	testCases := []struct {
		desc string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"undefined table is a statement problem", &pgconn.PgError{Code: "42P01"}, false},
		{"unique violation is a statement problem", &pgconn.PgError{Code: "23505"}, false},
		{"net op error", &net.OpError{Op: "dial", Err: io.EOF}, true},
		{"bare EOF", io.EOF, true},
		{"closed connection", net.ErrClosed, true},
		{"wrapped net error", fmt.Errorf("exec: %w", &net.OpError{Op: "read", Err: io.EOF}), true},
		{"plain error", fmt.Errorf("syntax error"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUnreachable(tc.err))
		})
	}
}

func TestTableNameFromDDL(t *testing.T) {
	assert.Equal(t, "btcusdt_ticker",
		tableNameFromDDL(`CREATE TABLE IF NOT EXISTS "btcusdt_ticker" ("a" TEXT)`))
	assert.Equal(t, "", tableNameFromDDL(`DROP TABLE "x"`))
}
