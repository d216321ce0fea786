package gormhost

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"
)

// Migrate creates or updates every registered history table.
func (h *Host) Migrate(ctx context.Context) error {
	for _, s := range h.HistorySchemas() {
		model, err := historyModel(s)
		if err != nil {
			return err
		}
		if err := h.db.WithContext(ctx).Table(s.Table).AutoMigrate(model); err != nil {
			return fmt.Errorf("gormhost: migrate %s: %w", s.Table, err)
		}
		logger.Info("history table migrated",
			zap.String("entity", s.Entity),
			zap.String("table", s.Table),
			zap.Int("columns", len(s.Columns)))
	}
	return nil
}

// historyModel builds a struct value GORM can migrate from a history schema.
func historyModel(s versioning.HistorySchema) (any, error) {
	fields := make([]reflect.StructField, 0, len(s.Columns))
	used := make(map[string]bool, len(s.Columns))

	for i, c := range s.Columns {
		if c.Type == nil {
			return nil, fmt.Errorf("gormhost: history column %s.%s has no type", s.Table, c.Name)
		}

		typ := c.Type
		settings := []string{"column:" + c.Name}
		switch {
		case c.PrimaryKey:
			settings = append(settings, "primaryKey")
			if c.AutoIncrement {
				settings = append(settings, "autoIncrement")
			}
		case !c.Nullable:
			settings = append(settings, "not null", "index")
		default:
			typ = nullable(typ)
		}

		fields = append(fields, reflect.StructField{
			Name: goName(c.Name, i, used),
			Type: typ,
			Tag:  reflect.StructTag(`gorm:"` + strings.Join(settings, ";") + `"`),
		})
	}

	return reflect.New(reflect.StructOf(fields)).Interface(), nil
}

func nullable(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return t
	}
	return reflect.PointerTo(t)
}

// goName returns a unique exported Go identifier for a column name.
func goName(column string, index int, used map[string]bool) string {
	var b strings.Builder
	upper := true
	for _, r := range column {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}

	name := b.String()
	if name == "" || !unicode.IsUpper([]rune(name)[0]) {
		name = "C" + name
	}
	if used[name] {
		name = fmt.Sprintf("%s%d", name, index)
	}
	used[name] = true
	return name
}
