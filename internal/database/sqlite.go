// Package database reads the live structure of SQLite and PostgreSQL databases into snapshots.
package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sqlitedriver "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

// OpenSQLite opens the SQLite database at path on a single connection. It never changes the schema.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if log != nil {
		log.Info("database opened", zap.String("path", path))
	}
	return db, nil
}

type masterRow struct {
	Type      string  `gorm:"column:type"`
	Name      string  `gorm:"column:name"`
	TableName string  `gorm:"column:tbl_name"`
	SQL       *string `gorm:"column:sql"`
}

type columnRow struct {
	Name         string  `gorm:"column:name"`
	Type         string  `gorm:"column:type"`
	NotNull      int     `gorm:"column:notnull"`
	DefaultValue *string `gorm:"column:dflt_value"`
	PK           int     `gorm:"column:pk"`
	Hidden       int     `gorm:"column:hidden"`
}

type indexRow struct {
	Name    string `gorm:"column:name"`
	Unique  int    `gorm:"column:unique"`
	Origin  string `gorm:"column:origin"`
	Partial int    `gorm:"column:partial"`
}

type indexColumnRow struct {
	Seq  int     `gorm:"column:seqno"`
	Name *string `gorm:"column:name"`
}

type foreignKeyRow struct {
	ID       int    `gorm:"column:id"`
	Seq      int    `gorm:"column:seq"`
	Table    string `gorm:"column:table"`
	From     string `gorm:"column:from"`
	To       string `gorm:"column:to"`
	OnUpdate string `gorm:"column:on_update"`
	OnDelete string `gorm:"column:on_delete"`
}

const (
	hiddenVirtualGenerated = 2
	hiddenStoredGenerated  = 3
)

// IntrospectSQLite reads every user table, index and view of db into a snapshot.
func IntrospectSQLite(ctx context.Context, db *gorm.DB) (*sqlite.Snapshot, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	conn := db.WithContext(ctx)

	var objects []masterRow
	err := conn.Raw(`SELECT type, name, tbl_name, sql FROM sqlite_master
		WHERE type IN ('table', 'view', 'index') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`).Scan(&objects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list schema objects: %w", err)
	}

	snapshot := sqlite.NewSnapshot()
	indexSQL := map[string]string{}
	for _, object := range objects {
		if object.Type == "index" && object.SQL != nil {
			indexSQL[object.Name] = *object.SQL
		}
	}
	for _, object := range objects {
		text := ""
		if object.SQL != nil {
			text = *object.SQL
		}
		switch object.Type {
		case "table":
			if err := introspectTable(conn, snapshot, object.Name, text, indexSQL); err != nil {
				return nil, err
			}
		case "view":
			if err := snapshot.Add(sqlite.View{Name: object.Name, Definition: viewDefinition(text)}); err != nil {
				return nil, err
			}
		}
	}
	return snapshot, nil
}

func introspectTable(conn *gorm.DB, snapshot *sqlite.Snapshot, table, createSQL string, indexSQL map[string]string) error {
	definition := parseCreateTable(createSQL)
	if err := snapshot.Add(sqlite.Table{Name: table, Strict: definition.strict, WithoutRowid: definition.withoutRowid}); err != nil {
		return err
	}

	var columns []columnRow
	if err := conn.Raw(`SELECT name, type, "notnull", dflt_value, pk, hidden FROM pragma_table_xinfo(?) ORDER BY cid`, table).Scan(&columns).Error; err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	var keyColumns []columnRow
	for _, row := range columns {
		if row.PK > 0 {
			keyColumns = append(keyColumns, row)
		}
	}
	sort.Slice(keyColumns, func(i, j int) bool { return keyColumns[i].PK < keyColumns[j].PK })
	autoincrement := len(keyColumns) == 1 && definition.autoincrement

	for _, row := range columns {
		column := sqlite.Column{
			Table:   table,
			Name:    row.Name,
			Type:    row.Type,
			NotNull: row.NotNull == 1,
			Default: row.DefaultValue,
		}
		switch row.Hidden {
		case 0:
		case hiddenVirtualGenerated, hiddenStoredGenerated:
			kind := sqlite.GeneratedVirtual
			if row.Hidden == hiddenStoredGenerated {
				kind = sqlite.GeneratedStored
			}
			column.Generated = &sqlite.Generated{Expression: definition.generated[strings.ToLower(row.Name)], Type: kind}
		default:
			continue
		}
		if autoincrement && row.PK > 0 {
			column.Autoincrement = true
		}
		if err := snapshot.Add(column); err != nil {
			return err
		}
	}

	if len(keyColumns) > 0 {
		pk := sqlite.PrimaryKey{Table: table, Name: sqlite.DefaultPrimaryKeyName(table)}
		for _, row := range keyColumns {
			pk.Columns = append(pk.Columns, row.Name)
		}
		if definition.primaryKeyName != "" {
			pk.Name, pk.NameExplicit = definition.primaryKeyName, true
		}
		if err := snapshot.Add(pk); err != nil {
			return err
		}
	}

	if err := introspectForeignKeys(conn, snapshot, table, definition); err != nil {
		return err
	}
	for _, check := range definition.checks {
		if err := snapshot.Add(sqlite.CheckConstraint{Table: table, Name: check.name, Value: check.value}); err != nil {
			return err
		}
	}
	return introspectIndexes(conn, snapshot, table, definition, indexSQL)
}

func introspectForeignKeys(conn *gorm.DB, snapshot *sqlite.Snapshot, table string, definition tableDefinition) error {
	var rows []foreignKeyRow
	if err := conn.Raw(`SELECT id, seq, "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table).Scan(&rows).Error; err != nil {
		return fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	grouped := map[int]*sqlite.ForeignKey{}
	var order []int
	for _, row := range rows {
		fk, ok := grouped[row.ID]
		if !ok {
			fk = &sqlite.ForeignKey{Table: table, TableTo: row.Table, OnUpdate: row.OnUpdate, OnDelete: row.OnDelete}
			grouped[row.ID] = fk
			order = append(order, row.ID)
		}
		fk.Columns = append(fk.Columns, row.From)
		fk.ColumnsTo = append(fk.ColumnsTo, row.To)
	}
	for _, id := range order {
		fk := grouped[id]
		fk.Name = definition.foreignKeys[columnsKey(fk.Columns)]
		if fk.Name == "" {
			fk.Name = sqlite.DefaultForeignKeyName(table, fk.Columns, fk.TableTo, fk.ColumnsTo)
		}
		if err := snapshot.Add(*fk); err != nil {
			return err
		}
	}
	return nil
}

func introspectIndexes(conn *gorm.DB, snapshot *sqlite.Snapshot, table string, definition tableDefinition, indexSQL map[string]string) error {
	var indexes []indexRow
	if err := conn.Raw(`SELECT name, "unique", origin, partial FROM pragma_index_list(?) ORDER BY name`, table).Scan(&indexes).Error; err != nil {
		return fmt.Errorf("failed to read indexes of %s: %w", table, err)
	}
	for _, index := range indexes {
		if index.Origin == "pk" {
			continue
		}
		var rows []indexColumnRow
		if err := conn.Raw(`SELECT seqno, name FROM pragma_index_info(?) ORDER BY seqno`, index.Name).Scan(&rows).Error; err != nil {
			return fmt.Errorf("failed to read index %s: %w", index.Name, err)
		}

		if index.Origin == "u" {
			columns := make([]string, 0, len(rows))
			for _, row := range rows {
				if row.Name != nil {
					columns = append(columns, *row.Name)
				}
			}
			unique := sqlite.UniqueConstraint{Table: table, Columns: columns}
			if name := definition.uniques[columnsKey(columns)]; name != "" {
				unique.Name, unique.NameExplicit = name, true
			} else {
				unique.Name = sqlite.DefaultUniqueName(table, columns)
			}
			if err := snapshot.Add(unique); err != nil {
				return err
			}
			continue
		}

		parsed := parseCreateIndex(indexSQL[index.Name])
		entity := sqlite.Index{Table: table, Name: index.Name, IsUnique: index.Unique == 1, Where: parsed.where}
		for position, row := range rows {
			if row.Name != nil {
				entity.Columns = append(entity.Columns, sqlite.IndexColumn{Value: *row.Name})
				continue
			}
			expression := ""
			if position < len(parsed.columns) {
				expression = parsed.columns[position]
			}
			entity.Columns = append(entity.Columns, sqlite.IndexColumn{Value: expression, IsExpression: true})
		}
		if err := snapshot.Add(entity); err != nil {
			return err
		}
	}
	return nil
}

func columnsKey(columns []string) string {
	lowered := make([]string, len(columns))
	for position, column := range columns {
		lowered[position] = strings.ToLower(column)
	}
	return strings.Join(lowered, ",")
}
