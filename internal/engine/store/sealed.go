package store

// sealedColumn describes a column holding a keyring envelope. Rows whose
// key_version is 0 carry no envelope.
type sealedColumn struct {
	table  string
	pk     []string
	column string
}

var sealedColumns = []sealedColumn{
	{table: "accounts", pk: []string{"id"}, column: "secrets"},
	{table: "proxies", pk: []string{"id"}, column: "password"},
	{table: "challenges", pk: []string{"account_id"}, column: "code_hash"},
	{table: "kv", pk: []string{"name"}, column: "value"},
}

// tables lists every table in dependency-free restore order.
var tables = []string{
	"accounts",
	"proxies",
	"tasks",
	"dedup",
	"join_events",
	"cursors",
	"fetched_items",
	"challenges",
	"kv",
}

func sealedColumnOf(table string) (sealedColumn, bool) {
	for _, c := range sealedColumns {
		if c.table == table {
			return c, true
		}
	}
	return sealedColumn{}, false
}
