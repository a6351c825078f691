package schema

import (
	"fmt"
	"strings"

	"github.com/yanun0323/decimal"
)

// Table name suffixes derived from the symbol. One header table references
// one asks and one bids level table per symbol.
func TickerTable(symbol string) string    { return strings.ToLower(symbol) + "_ticker" }
func AsksTable(symbol string) string      { return strings.ToLower(symbol) + "_asks" }
func BidsTable(symbol string) string      { return strings.ToLower(symbol) + "_bids" }
func OrderBookTable(symbol string) string { return strings.ToLower(symbol) + "_order_book" }

// CreateLevelTableSQL renders idempotent DDL for an asks or bids table with
// the discovered level count: price_i/quantity_i pairs for i in 1..levels.
func CreateLevelTableSQL(table string, levels int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(table))
	b.WriteString(`"last_update_id" BIGINT PRIMARY KEY`)
	for i := 1; i <= levels; i++ {
		fmt.Fprintf(&b, `, "price_%d" TEXT, "quantity_%d" TEXT`, i, i)
	}
	b.WriteString(")")
	return b.String()
}

// CreateOrderBookTableSQL renders idempotent DDL for the header table. The
// header references both level tables so a header row can never outlive the
// level rows it describes.
func CreateOrderBookTableSQL(table, asksTable, bidsTable string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(table))
	b.WriteString(`"last_update_id" BIGINT PRIMARY KEY, "timestamp" BIGINT`)
	fmt.Fprintf(&b, `, FOREIGN KEY ("last_update_id") REFERENCES %s ("last_update_id") ON DELETE CASCADE`, quoteIdent(asksTable))
	fmt.Fprintf(&b, `, FOREIGN KEY ("last_update_id") REFERENCES %s ("last_update_id") ON DELETE CASCADE`, quoteIdent(bidsTable))
	b.WriteString(")")
	return b.String()
}

// InsertLevelsSQL renders a parameterized insert for one side of the book.
func InsertLevelsSQL(table string, levels int, ignoreDup bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (\"last_update_id\"", quoteIdent(table))
	for i := 1; i <= levels; i++ {
		fmt.Fprintf(&b, `, "price_%d", "quantity_%d"`, i, i)
	}
	b.WriteString(") VALUES ($1")
	for i := 0; i < levels*2; i++ {
		fmt.Fprintf(&b, ", $%d", i+2)
	}
	b.WriteString(")")
	if ignoreDup {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	return b.String()
}

// LevelValues flattens one side of the book into insert arguments matching
// InsertLevelsSQL.
func LevelValues(lastUpdateID int64, levels [][2]decimal.Decimal) []any {
	values := make([]any, 0, 1+len(levels)*2)
	values = append(values, lastUpdateID)
	for _, level := range levels {
		values = append(values, level[0].String(), level[1].String())
	}
	return values
}

// InsertOrderBookSQL renders the parameterized header insert.
func InsertOrderBookSQL(table string, ignoreDup bool) string {
	sql := fmt.Sprintf(`INSERT INTO %s ("last_update_id", "timestamp") VALUES ($1, $2)`, quoteIdent(table))
	if ignoreDup {
		sql += " ON CONFLICT DO NOTHING"
	}
	return sql
}
