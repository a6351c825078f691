package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/exception"
)

func tickerRules() RuleSet {
	return RuleSet{
		PrimaryKey: "close_time",
		Fields: []Field{
			{Source: "C", Alias: "close_time", Type: FieldInt},
			{Source: "c", Alias: "last_price", Type: FieldText},
			{Source: "timestamp", Alias: "timestamp", Type: FieldInt},
		},
	}
}

func TestRulesValidate(t *testing.T) {
	testCases := []struct {
		desc    string
		rules   Rules
		wantErr error
	}{
		{
			"valid",
			Rules{"ticker": tickerRules()},
			nil,
		},
		{
			"unsupported type",
			Rules{"ticker": {
				PrimaryKey: "a",
				Fields:     []Field{{Source: "x", Alias: "a", Type: "FLOAT"}},
			}},
			exception.ErrUnsupportedFieldType,
		},
		{
			"primary key not a field alias",
			Rules{"ticker": {
				PrimaryKey: "nope",
				Fields:     []Field{{Source: "x", Alias: "a", Type: FieldInt}},
			}},
			exception.ErrBadPrimaryKey,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.rules.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	got := tickerRules().CreateTableSQL("btcusdt_ticker")
	want := `CREATE TABLE IF NOT EXISTS "btcusdt_ticker" ("close_time" BIGINT, "last_price" TEXT, "timestamp" BIGINT, PRIMARY KEY ("close_time"))`
	assert.Equal(t, want, got)
}

func TestInsertSQL(t *testing.T) {
	rs := tickerRules()
	assert.Equal(t,
		`INSERT INTO "btcusdt_ticker" ("close_time", "last_price", "timestamp") VALUES ($1, $2, $3)`,
		rs.InsertSQL("btcusdt_ticker", false),
	)
	assert.Equal(t,
		`INSERT INTO "btcusdt_ticker" ("close_time", "last_price", "timestamp") VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		rs.InsertSQL("btcusdt_ticker", true),
	)
}

func TestValuesConversion(t *testing.T) {
	rs := tickerRules()

	values, err := rs.Values(map[string]any{
		"C":         json.Number("1700000000000"),
		"c":         "50000.00",
		"timestamp": int64(1700000000123),
	})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, int64(1700000000000), values[0])
	assert.Equal(t, "50000.00", values[1])
	assert.Equal(t, int64(1700000000123), values[2])

	_, err = rs.Values(map[string]any{"c": "1", "timestamp": int64(1)})
	assert.ErrorIs(t, err, exception.ErrMissingField)

	// float64 close times survive the int conversion.
	values, err = rs.Values(map[string]any{
		"C":         float64(1700000000000),
		"c":         42,
		"timestamp": int64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), values[0])
	assert.Equal(t, "42", values[1])
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	content := `
ticker:
  primary_key: close_time
  fields:
    - source: C
      alias: close_time
      type: INT
    - source: c
      alias: last_price
      type: TEXT
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	rs, ok := rules.Resolve("ticker")
	require.True(t, ok)
	assert.Equal(t, "close_time", rs.PrimaryKey)
	require.Len(t, rs.Fields, 2)
	assert.Equal(t, FieldInt, rs.Fields[0].Type)

	_, ok = rules.Resolve("missing")
	assert.False(t, ok)
}

func TestLoadRulesRejectsBadType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	content := `
ticker:
  primary_key: a
  fields:
    - source: x
      alias: a
      type: BLOB
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadRules(path)
	assert.ErrorIs(t, err, exception.ErrUnsupportedFieldType)
}
