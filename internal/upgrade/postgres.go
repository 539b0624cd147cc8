package upgrade

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

const publicSchema = "public"

// postgresV5ToV6 keys tables and enums by schema and turns enum value maps into arrays.
func postgresV5ToV6(doc *Object) error {
	if tables, ok := doc.Child("tables"); ok {
		rekeyed := NewObject()
		err := tables.EachObject(func(key string, table *Object) error {
			schema := orKey(table.Text("schema"), publicSchema)
			table.Set("schema", schema)
			rekeyed.Set(schema+"."+orKey(table.Text("name"), key), table)
			return nil
		})
		if err != nil {
			return fmt.Errorf("tables.%w", err)
		}
		doc.Set("tables", rekeyed)
	}

	if enums, ok := doc.Child("enums"); ok {
		rekeyed := NewObject()
		err := enums.EachObject(func(key string, enum *Object) error {
			name := orKey(enum.Text("name"), key)
			schema := orKey(enum.Text("schema"), publicSchema)
			values := []any{}
			if byName, ok := enum.Child("values"); ok {
				for _, valueKey := range byName.Keys() {
					values = append(values, valueOf(byName, valueKey))
				}
			} else {
				values = stringArray(enum, "values")
			}
			rekeyed.Set(schema+"."+name, object("name", name, "schema", schema, "values", values))
			return nil
		})
		if err != nil {
			return fmt.Errorf("enums.%w", err)
		}
		doc.Set("enums", rekeyed)
	}

	doc.Set("dialect", dialect.PostgreSQL.String())
	doc.Set("version", "6")
	return nil
}

// postgresV6ToV7 expands index columns and adds the policy, sequence, role and view maps.
func postgresV6ToV7(doc *Object) error {
	tables, _ := doc.Child("tables")
	err := tables.EachObject(func(_ string, table *Object) error {
		indexes, _ := table.Child("indexes")
		err := indexes.EachObject(func(_ string, index *Object) error {
			if items, ok := index.Array("columns"); ok {
				expanded := make([]any, 0, len(items))
				for _, item := range items {
					name, ok := item.(string)
					if !ok {
						expanded = append(expanded, item)
						continue
					}
					expanded = append(expanded, object(
						"expression", name,
						"isExpression", false,
						"asc", true,
						"nulls", "last",
						"opClass", nil,
					))
				}
				index.Set("columns", expanded)
			}
			index.SetDefault("with", NewObject())
			return nil
		})
		if err != nil {
			return fmt.Errorf("indexes.%w", err)
		}
		table.SetDefault("policies", NewObject())
		table.SetDefault("isRLSEnabled", false)
		table.SetDefault("checkConstraints", NewObject())
		return nil
	})
	if err != nil {
		return fmt.Errorf("tables.%w", err)
	}

	for _, section := range []string{"sequences", "policies", "views", "roles"} {
		doc.SetDefault(section, NewObject())
	}
	doc.Set("version", "7")
	return nil
}

// postgresV7ToV8 turns schemas into objects, moves table policies to the top level and stores
// every literal as text.
func postgresV7ToV8(doc *Object) error {
	if schemas, ok := doc.Child("schemas"); ok {
		for _, key := range schemas.Keys() {
			if name, ok := valueOf(schemas, key).(string); ok {
				schemas.Set(key, object("name", orKey(name, key)))
			}
		}
	}

	policies := NewObject()
	if existing, ok := doc.Child("policies"); ok {
		err := existing.EachObject(func(key string, policy *Object) error {
			schema, table := policy.Text("schema"), policy.Text("table")
			if on := policy.Text("on"); on != "" {
				schema, table = splitOn(on)
			}
			if table == "" {
				return fmt.Errorf("policy %q names no table", key)
			}
			policy.Delete("on")
			movePolicy(policies, policy, orKey(schema, publicSchema), table, key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("policies.%w", err)
		}
	}

	tables, _ := doc.Child("tables")
	err := tables.EachObject(func(_ string, table *Object) error {
		schema := orKey(table.Text("schema"), publicSchema)
		name := table.Text("name")

		uniques := ensureChild(table, "uniqueConstraints")
		columns, _ := table.Child("columns")
		err := columns.EachObject(func(key string, column *Object) error {
			defaultValue, err := sqlText(column, "default")
			if err != nil {
				return err
			}
			if defaultValue == nil {
				column.Delete("default")
			} else {
				column.Set("default", defaultValue)
			}
			if identity, ok := column.Child("identity"); ok {
				stringify(identity, "increment", "minValue", "maxValue", "startWith", "cache")
			}
			if column.Bool("isUnique") {
				uniqueName := orKey(column.Text("uniqueName"), name+"_"+orKey(column.Text("name"), key)+"_unique")
				uniques.Set(uniqueName, object(
					"name", uniqueName,
					"columns", []any{orKey(column.Text("name"), key)},
					"nullsNotDistinct", column.Bool("nullsNotDistinct"),
				))
			}
			column.Delete("isUnique")
			column.Delete("uniqueName")
			column.Delete("nullsNotDistinct")
			return nil
		})
		if err != nil {
			return fmt.Errorf("columns.%w", err)
		}

		indexes, _ := table.Child("indexes")
		err = indexes.EachObject(func(_ string, index *Object) error {
			if with, ok := index.Child("with"); ok {
				return stringifyAll(with)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("indexes.%w", err)
		}

		nested, _ := table.Child("policies")
		err = nested.EachObject(func(key string, policy *Object) error {
			movePolicy(policies, policy, schema, name, key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("policies.%w", err)
		}
		table.Delete("policies")
		return nil
	})
	if err != nil {
		return fmt.Errorf("tables.%w", err)
	}
	doc.Set("policies", policies)

	if sequences, ok := doc.Child("sequences"); ok {
		err := sequences.EachObject(func(_ string, sequence *Object) error {
			stringify(sequence, "increment", "minValue", "maxValue", "startWith", "cache")
			return nil
		})
		if err != nil {
			return fmt.Errorf("sequences.%w", err)
		}
	}

	if views, ok := doc.Child("views"); ok {
		kept := NewObject()
		err := views.EachObject(func(key string, view *Object) error {
			if view.Bool("isExisting") {
				return nil
			}
			if with, ok := view.Child("with"); ok {
				if err := stringifyAll(with); err != nil {
					return err
				}
			}
			kept.Set(key, view)
			return nil
		})
		if err != nil {
			return fmt.Errorf("views.%w", err)
		}
		doc.Set("views", kept)
	}

	doc.Set("version", "8")
	return nil
}

func movePolicy(policies, policy *Object, schema, table, key string) {
	name := orKey(policy.Text("name"), key)
	policy.Set("name", name)
	policy.Set("schema", schema)
	policy.Set("table", table)
	policies.Set(schema+"."+table+"."+name, policy)
}

// splitOn reads the "schema"."table" reference of a standalone policy.
func splitOn(on string) (schema, table string) {
	cleaned := strings.ReplaceAll(on, `"`, "")
	if dot := strings.LastIndex(cleaned, "."); dot >= 0 {
		return cleaned[:dot], cleaned[dot+1:]
	}
	return publicSchema, cleaned
}
