package upgrade

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// sqliteV5ToV6 quotes structured column defaults and adds the views map.
func sqliteV5ToV6(doc *Object) error {
	tables, _ := doc.Child("tables")
	err := tables.EachObject(func(_ string, table *Object) error {
		columns, _ := table.Child("columns")
		return columns.EachObject(func(_ string, column *Object) error {
			value, ok := column.Get("default")
			if !ok {
				return nil
			}
			switch value.(type) {
			case *Object, []any:
				encoded, err := json.Marshal(value)
				if err != nil {
					return err
				}
				column.Set("default", "'"+string(encoded)+"'")
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("tables.%w", err)
	}
	doc.SetDefault("views", NewObject())
	doc.Set("version", "6")
	return nil
}

// sqliteV6ToV7 flattens the name keyed tables into the ddl entity list.
func sqliteV6ToV7(doc *Object) error {
	groups := map[string][]any{}
	add := func(entityType string, entity *Object) {
		entity.Set("entityType", entityType)
		groups[entityType] = append(groups[entityType], entity)
	}

	tables, _ := doc.Child("tables")
	err := tables.EachObject(func(key string, table *Object) error {
		name := orKey(table.Text("name"), key)
		add("tables", object(
			"name", name,
			"strict", table.Bool("strict"),
			"withoutRowid", table.Bool("withoutRowid"),
		))

		columnNames := map[string]bool{}
		var pkColumns []string
		columns, _ := table.Child("columns")
		err := columns.EachObject(func(columnKey string, column *Object) error {
			columnName := orKey(column.Text("name"), columnKey)
			columnNames[columnName] = true
			if column.Bool("primaryKey") {
				pkColumns = append(pkColumns, columnName)
			}
			defaultValue, err := sqlText(column, "default")
			if err != nil {
				return err
			}
			add("columns", object(
				"table", name,
				"name", columnName,
				"type", column.Text("type"),
				"notNull", column.Bool("notNull"),
				"autoincrement", column.Bool("autoincrement"),
				"default", defaultValue,
				"generated", sqliteGenerated(column),
			))
			return nil
		})
		if err != nil {
			return fmt.Errorf("columns.%w", err)
		}

		composite, _ := table.Child("compositePrimaryKeys")
		if composite.Len() > 0 && len(pkColumns) > 0 {
			return fmt.Errorf("table %s declares %d primary keys", name, composite.Len()+1)
		}
		if len(pkColumns) > 0 {
			add("pks", object(
				"table", name,
				"name", name+"_pk",
				"columns", stringsToAny(pkColumns),
				"nameExplicit", false,
			))
		}
		err = composite.EachObject(func(pkKey string, pk *Object) error {
			add("pks", object(
				"table", name,
				"name", orKey(pk.Text("name"), pkKey),
				"columns", stringArray(pk, "columns"),
				"nameExplicit", false,
			))
			return nil
		})
		if err != nil {
			return err
		}

		foreignKeys, _ := table.Child("foreignKeys")
		err = foreignKeys.EachObject(func(fkKey string, fk *Object) error {
			add("fks", object(
				"table", name,
				"name", orKey(fk.Text("name"), fkKey),
				"columns", stringArray(fk, "columnsFrom"),
				"tableTo", fk.Text("tableTo"),
				"columnsTo", stringArray(fk, "columnsTo"),
				"onUpdate", fk.Text("onUpdate"),
				"onDelete", fk.Text("onDelete"),
			))
			return nil
		})
		if err != nil {
			return err
		}

		uniques, _ := table.Child("uniqueConstraints")
		err = uniques.EachObject(func(uniqueKey string, unique *Object) error {
			add("uniques", object(
				"table", name,
				"name", orKey(unique.Text("name"), uniqueKey),
				"columns", stringArray(unique, "columns"),
				"nameExplicit", false,
			))
			return nil
		})
		if err != nil {
			return err
		}

		checks, _ := table.Child("checkConstraints")
		err = checks.EachObject(func(checkKey string, check *Object) error {
			add("checks", object(
				"table", name,
				"name", orKey(check.Text("name"), checkKey),
				"value", check.Text("value"),
			))
			return nil
		})
		if err != nil {
			return err
		}

		indexes, _ := table.Child("indexes")
		return indexes.EachObject(func(indexKey string, index *Object) error {
			// Older files store expressions as plain strings; anything that is not a column is one.
			var indexColumns []any
			for _, value := range stringArray(index, "columns") {
				text := value.(string)
				indexColumns = append(indexColumns, object("value", text, "isExpression", !columnNames[text]))
			}
			if indexColumns == nil {
				indexColumns = []any{}
			}
			add("indexes", object(
				"table", name,
				"name", orKey(index.Text("name"), indexKey),
				"columns", indexColumns,
				"isUnique", index.Bool("isUnique"),
				"where", index.Text("where"),
			))
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("tables.%w", err)
	}

	views, _ := doc.Child("views")
	err = views.EachObject(func(key string, view *Object) error {
		if view.Bool("isExisting") {
			return nil
		}
		add("views", object("name", orKey(view.Text("name"), key), "definition", view.Text("definition")))
		return nil
	})
	if err != nil {
		return fmt.Errorf("views.%w", err)
	}

	entities := []any{}
	for _, entityType := range []string{"tables", "columns", "pks", "fks", "uniques", "checks", "indexes", "views"} {
		entities = append(entities, groups[entityType]...)
	}

	meta := object("tables", NewObject(), "columns", NewObject())
	if previous, ok := doc.Child("_meta"); ok {
		for _, section := range []string{"tables", "columns"} {
			renames, _ := previous.Child(section)
			target, _ := meta.Child(section)
			for _, from := range renames.Keys() {
				target.Set(unquoteKey(from), unquoteKey(renames.Text(from)))
			}
		}
	}

	upgraded := object(
		"version", "7",
		"dialect", dialect.SQLite.String(),
		"id", doc.Text("id"),
		"prevId", doc.Text("prevId"),
		"ddl", entities,
		"_meta", meta,
	)
	*doc = *upgraded
	return nil
}

func sqliteGenerated(column *Object) any {
	generated, ok := column.Child("generated")
	if !ok {
		return nil
	}
	expression := generated.Text("expression")
	if expression == "" {
		expression = generated.Text("as")
	}
	kind := strings.ToLower(generated.Text("type"))
	if kind == "" {
		kind = "virtual"
	}
	return object("expression", expression, "type", kind)
}

// unquoteKey turns "\"users\".\"name\"" into users.name.
func unquoteKey(key string) string {
	return strings.ReplaceAll(key, `"`, "")
}
