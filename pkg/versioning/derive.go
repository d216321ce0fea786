package versioning

import (
	"fmt"
	"reflect"
)

// HistoryIDColumn is the synthetic auto-increment primary key of every history table.
const HistoryIDColumn = "id"

// TrackedField is one flattened field of a tracked entity, recorded in its history table.
type TrackedField struct {
	Name string
	// Path walks from the entity through composite fields to the leaf value.
	Path   []string
	Column string
	Type   reflect.Type

	// Reference names the referenced entity kind; empty for scalar fields.
	Reference  string
	AutoUpdate bool
}

// TrackedEntity is the derived, immutable history shape of one entity kind.
type TrackedEntity struct {
	Name         string
	IdentityName string
	IdentityType reflect.Type

	Table     string
	RefField  string
	RefColumn string
	RefType   reflect.Type

	Fields []TrackedField
}

// HistoryColumn describes one column of a history table.
type HistoryColumn struct {
	Name  string
	Field string
	Type  reflect.Type

	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
}

// HistorySchema describes the history table of one tracked entity kind.
type HistorySchema struct {
	Entity  string
	Table   string
	Columns []HistoryColumn
}

// EntityLookup finds the descriptor of another entity kind by name.
type EntityLookup func(name string) (EntityDescriptor, bool)

// Derive computes the history shape of desc.
// lookup resolves reference targets so their columns take the target's identity type; it may be nil.
func Derive(desc EntityDescriptor, lookup EntityLookup, opts ...Option) (*TrackedEntity, error) {
	s := newSettings(opts)
	return derive(desc, lookup, s)
}

func derive(desc EntityDescriptor, lookup EntityLookup, s settings) (*TrackedEntity, error) {
	switch {
	case desc.Abstract:
		return nil, fmt.Errorf("%w: %s", ErrAbstractEntity, desc.Name)
	case desc.Discriminated:
		return nil, fmt.Errorf("%w: %s", ErrInheritedEntity, desc.Name)
	case desc.HasSubclasses:
		return nil, fmt.Errorf("%w: %s", ErrBaseEntity, desc.Name)
	case desc.Identity == nil:
		return nil, fmt.Errorf("%w: %s", ErrNoIdentity, desc.Name)
	}

	te := &TrackedEntity{
		Name:         desc.Name,
		IdentityName: desc.Identity.Name,
		IdentityType: desc.Identity.Type,
		Table:        desc.Options.Table,
		RefField:     desc.Options.RefField,
		RefColumn:    desc.Options.RefColumn,
		RefType:      desc.Identity.Type,
	}
	if te.Table == "" {
		te.Table = s.namer.ColumnName("", desc.Name) + s.tableSuffix
	}
	if te.RefField == "" {
		te.RefField = desc.Name + desc.Identity.Name
	}
	if te.RefColumn == "" {
		te.RefColumn = s.namer.ColumnName("", te.RefField)
	}

	te.Fields = flatten(desc.Fields, nil, "", "", false, desc.VersionField, lookup)

	seen := map[string]string{
		HistoryIDColumn: HistoryIDColumn,
		te.RefColumn:    te.RefField,
	}
	for _, f := range te.Fields {
		if other, ok := seen[f.Column]; ok {
			return nil, fmt.Errorf("%w: %s.%s and %s use column %q", ErrColumnConflict, desc.Name, f.Name, other, f.Column)
		}
		seen[f.Column] = f.Name
	}

	return te, nil
}

func flatten(fields []FieldDescriptor, path []string, name, prefix string, autoUpdate bool, versionField string, lookup EntityLookup) []TrackedField {
	var out []TrackedField
	for _, fd := range fields {
		if fd.NotTracked || fd.Kind == KindCollection {
			continue
		}

		fieldPath := make([]string, len(path), len(path)+1)
		copy(fieldPath, path)
		fieldPath = append(fieldPath, fd.Name)
		fieldName := name + fd.Name
		auto := autoUpdate || fd.AutoUpdate || (path == nil && versionField != "" && fd.Name == versionField)

		switch fd.Kind {
		case KindComposite:
			out = append(out, flatten(fd.Fields, fieldPath, fieldName, prefix+fd.ColumnPrefix, auto, "", lookup)...)
		case KindReference:
			typ := fd.Type
			if lookup != nil {
				if target, ok := lookup(fd.Target); ok && target.Identity != nil {
					typ = target.Identity.Type
				}
			}
			out = append(out, TrackedField{
				Name:       fieldName,
				Path:       fieldPath,
				Column:     prefix + fd.Column,
				Type:       typ,
				Reference:  fd.Target,
				AutoUpdate: auto,
			})
		default:
			out = append(out, TrackedField{
				Name:       fieldName,
				Path:       fieldPath,
				Column:     prefix + fd.Column,
				Type:       fd.Type,
				AutoUpdate: auto,
			})
		}
	}
	return out
}

// HistorySchema returns the table description for the entity's history rows.
func (te *TrackedEntity) HistorySchema() HistorySchema {
	cols := make([]HistoryColumn, 0, len(te.Fields)+2)
	cols = append(cols,
		HistoryColumn{Name: HistoryIDColumn, Type: reflect.TypeOf(int64(0)), PrimaryKey: true, AutoIncrement: true},
		HistoryColumn{Name: te.RefColumn, Field: te.RefField, Type: te.RefType},
	)
	for _, f := range te.Fields {
		cols = append(cols, HistoryColumn{Name: f.Column, Field: f.Name, Type: f.Type, Nullable: true})
	}
	return HistorySchema{Entity: te.Name, Table: te.Table, Columns: cols}
}

// AutoUpdateFields returns the names of fields whose change alone does not produce a history row.
func (te *TrackedEntity) AutoUpdateFields() []string {
	var names []string
	for _, f := range te.Fields {
		if f.AutoUpdate {
			names = append(names, f.Name)
		}
	}
	return names
}

// Field returns the tracked field called name.
func (te *TrackedEntity) Field(name string) (TrackedField, bool) {
	for _, f := range te.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return TrackedField{}, false
}

// ColumnValues maps a history row keyed by field name onto column names.
func (te *TrackedEntity) ColumnValues(row Row) map[string]any {
	values := make(map[string]any, len(te.Fields)+1)
	values[te.RefColumn] = row[te.RefField]
	for _, f := range te.Fields {
		values[f.Column] = row[f.Name]
	}
	return values
}
