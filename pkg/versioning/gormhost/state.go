package gormhost

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"
)

// structState exposes an entity struct value to the engine.
type structState struct {
	ctx context.Context
	ent *entity
	rv  reflect.Value
}

func (s structState) Value(path []string) any {
	acc, ok := s.ent.accessors[pathKey(path)]
	if !ok {
		return nil
	}
	return acc(s.ctx, s.rv)
}

func scalarAccessor(f *schema.Field) accessor {
	return func(ctx context.Context, rv reflect.Value) any {
		v, _ := f.ValueOf(ctx, rv)
		return deref(v)
	}
}

// referenceAccessor reads the foreign key, falling back to the loaded relation when the key is unset.
func referenceAccessor(rel *schema.Relationship, fk *schema.Field) accessor {
	return func(ctx context.Context, rv reflect.Value) any {
		if v, zero := fk.ValueOf(ctx, rv); !zero {
			return deref(v)
		}
		if v, zero := rel.Field.ValueOf(ctx, rv); !zero {
			return v
		}
		return nil
	}
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// elements returns the struct values of type t held by rv, which may be a struct, a pointer or a slice.
func elements(rv reflect.Value, t reflect.Type) []reflect.Value {
	rv = reflect.Indirect(rv)
	switch rv.Kind() {
	case reflect.Struct:
		if rv.Type() == t {
			return []reflect.Value{rv}
		}
	case reflect.Slice, reflect.Array:
		out := make([]reflect.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e := reflect.Indirect(rv.Index(i))
			if e.Kind() == reflect.Interface {
				e = reflect.Indirect(e.Elem())
			}
			if e.IsValid() && e.Type() == t {
				out = append(out, e)
			}
		}
		return out
	}
	return nil
}

// idKey turns an identifier into a map key.
func idKey(id any) any {
	if id == nil {
		return nil
	}
	if reflect.TypeOf(id).Comparable() {
		return id
	}
	return fmt.Sprint(id)
}
