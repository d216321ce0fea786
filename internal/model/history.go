package model

// HistoryRow is one row of a history table, keyed by column name.
type HistoryRow map[string]any

// Tracked lists the models whose history the service records.
func Tracked() []any {
	return []any{&Author{}, &Book{}}
}
