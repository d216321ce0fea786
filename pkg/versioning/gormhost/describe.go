package gormhost

import (
	"context"
	"reflect"
	"strings"

	"gorm.io/gorm/schema"

	"actsasversioned/pkg/versioning"
)

// TagName is the struct tag holding per-field tracking facts:
//
//	versioned:"-"          field is not tracked
//	versioned:"autoupdate" a change to the field alone does not produce a history row
//	versioned:"lock"       field is the optimistic-lock counter (implies autoupdate)
const TagName = "versioned"

type tagFacts struct {
	notTracked bool
	autoUpdate bool
	lock       bool
}

func parseTag(tag reflect.StructTag) tagFacts {
	var f tagFacts
	for _, opt := range strings.Split(tag.Get(TagName), ",") {
		switch strings.ToLower(strings.TrimSpace(opt)) {
		case "-":
			f.notTracked = true
		case "autoupdate":
			f.autoUpdate = true
		case "lock":
			f.lock = true
		}
	}
	return f
}

func (f tagFacts) or(o tagFacts) tagFacts {
	return tagFacts{
		notTracked: f.notTracked || o.notTracked,
		autoUpdate: f.autoUpdate || o.autoUpdate,
		lock:       f.lock || o.lock,
	}
}

// accessor reads one descriptor leaf from an entity struct value.
type accessor func(ctx context.Context, rv reflect.Value) any

type entity struct {
	schema    *schema.Schema
	desc      versioning.EntityDescriptor
	accessors map[string]accessor
}

func pathKey(path []string) string {
	return strings.Join(path, ".")
}

type node struct {
	fd       versioning.FieldDescriptor
	children []*node
	byName   map[string]*node
}

func newNode() *node {
	return &node{byName: make(map[string]*node)}
}

func (n *node) child(fd versioning.FieldDescriptor) *node {
	if c, ok := n.byName[fd.Name]; ok {
		return c
	}
	c := newNode()
	c.fd = fd
	n.byName[fd.Name] = c
	n.children = append(n.children, c)
	return c
}

func (n *node) fields() []versioning.FieldDescriptor {
	out := make([]versioning.FieldDescriptor, 0, len(n.children))
	for _, c := range n.children {
		fd := c.fd
		if fd.Kind == versioning.KindComposite {
			fd.Fields = c.fields()
		}
		out = append(out, fd)
	}
	return out
}

type embedStep struct {
	name   string
	prefix string
	named  bool
	facts  tagFacts
}

// embedSteps returns the embedded struct fields a flattened schema field is reached through.
func embedSteps(t reflect.Type, bindNames []string) []embedStep {
	if len(bindNames) < 2 {
		return nil
	}
	steps := make([]embedStep, 0, len(bindNames)-1)
	for _, name := range bindNames[:len(bindNames)-1] {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		sf, ok := directField(t, name)
		if !ok {
			break
		}
		settings := schema.ParseTagSetting(sf.Tag.Get("gorm"), ";")
		_, embedded := settings["EMBEDDED"]
		steps = append(steps, embedStep{
			name:   name,
			prefix: settings["EMBEDDEDPREFIX"],
			named:  embedded || !sf.Anonymous,
			facts:  parseTag(sf.Tag),
		})
		t = sf.Type
	}
	return steps
}

func directField(t reflect.Type, name string) (reflect.StructField, bool) {
	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	for i := 0; i < t.NumField(); i++ {
		if sf := t.Field(i); sf.Name == name {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

// describe builds the host-neutral descriptor of a parsed GORM schema.
// Named embedded structs become composites; anonymous embeds are promoted.
// Belongs-to relations become references stored in their foreign-key column.
func describe(sch *schema.Schema) *entity {
	ent := &entity{schema: sch, accessors: make(map[string]accessor)}
	desc := versioning.EntityDescriptor{Name: sch.Name}

	if v, ok := reflect.New(sch.ModelType).Interface().(versioning.Versioned); ok {
		desc.Tracked = true
		desc.Options = v.ActsAsVersioned()
	}

	identity := sch.PrioritizedPrimaryField
	if identity != nil {
		desc.Identity = &versioning.FieldDescriptor{
			Name:   identity.Name,
			Column: identity.DBName,
			Type:   identity.FieldType,
		}
	}

	folded := make(map[string]bool)
	references := make(map[string]*schema.Field)
	for _, rel := range sch.Relationships.BelongsTo {
		var fks []*schema.Field
		for _, ref := range rel.References {
			if !ref.OwnPrimaryKey && ref.ForeignKey != nil && ref.ForeignKey.Schema == sch {
				fks = append(fks, ref.ForeignKey)
			}
		}
		if len(fks) == 1 {
			folded[fks[0].Name] = true
			references[rel.Name] = fks[0]
		}
	}

	root := newNode()
	for _, f := range sch.Fields {
		if f == identity {
			continue
		}

		if rel, ok := sch.Relationships.Relations[f.Name]; ok && len(f.BindNames) == 1 {
			facts := parseTag(f.Tag)
			switch rel.Type {
			case schema.HasMany, schema.Many2Many:
				root.child(versioning.FieldDescriptor{
					Name:       f.Name,
					Kind:       versioning.KindCollection,
					Target:     rel.FieldSchema.Name,
					NotTracked: facts.notTracked,
				})
			case schema.BelongsTo:
				fk, ok := references[rel.Name]
				if !ok {
					continue
				}
				facts = facts.or(parseTag(fk.Tag))
				root.child(versioning.FieldDescriptor{
					Name:       f.Name,
					Column:     fk.DBName,
					Type:       fk.FieldType,
					Kind:       versioning.KindReference,
					Target:     rel.FieldSchema.Name,
					NotTracked: facts.notTracked,
					AutoUpdate: facts.autoUpdate,
				})
				ent.accessors[f.Name] = referenceAccessor(rel, fk)
			}
			continue
		}

		if f.DBName == "" || folded[f.Name] {
			continue
		}

		parent := root
		var path []string
		var inherited tagFacts
		pending, trimmed := "", ""
		for _, st := range embedSteps(sch.ModelType, f.BindNames) {
			if !st.named {
				pending += st.prefix
				inherited = inherited.or(st.facts)
				continue
			}
			prefix := pending + st.prefix
			facts := inherited.or(st.facts)
			pending, inherited = "", tagFacts{}
			trimmed += prefix
			parent = parent.child(versioning.FieldDescriptor{
				Name:         st.name,
				Kind:         versioning.KindComposite,
				ColumnPrefix: prefix,
				NotTracked:   facts.notTracked,
				AutoUpdate:   facts.autoUpdate,
			})
			path = append(path, st.name)
		}

		facts := inherited.or(parseTag(f.Tag))
		if facts.lock && len(path) == 0 {
			desc.VersionField = f.Name
		}
		parent.child(versioning.FieldDescriptor{
			Name:       f.Name,
			Column:     strings.TrimPrefix(f.DBName, trimmed),
			Type:       f.FieldType,
			NotTracked: facts.notTracked,
			AutoUpdate: facts.autoUpdate || facts.lock || f.AutoUpdateTime != 0,
		})
		ent.accessors[pathKey(append(path, f.Name))] = scalarAccessor(f)
	}

	desc.Fields = root.fields()
	ent.desc = desc
	return ent
}

// markHierarchy flags entities that anonymously embed another registered entity, and the entities embedded.
func markHierarchy(entities []*entity) {
	for _, ent := range entities {
		t := ent.schema.ModelType
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.Anonymous {
				continue
			}
			ft := sf.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			for _, base := range entities {
				if base != ent && base.schema.ModelType == ft {
					ent.desc.Discriminated = true
					base.desc.HasSubclasses = true
				}
			}
		}
	}
}
