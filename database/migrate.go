package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"archive-bot/models"
	"archive-bot/normalize"
	"archive-bot/utils"
)

// RowDiagnostic lists the legacy sub-fields dropped from one row during migration.
type RowDiagnostic struct {
	ID     string
	Fields []normalize.FieldIssue
}

// MigrationReport summarizes a schema migration.
type MigrationReport struct {
	Migrated bool
	Rows     int
	Lossy    []RowDiagnostic
}

const migrationTable = "raw_archive_new"

// coreRowColumns are copied verbatim from the legacy table.
var coreRowColumns = []string{
	"id", "createdTimestamp", "content", "author_id", "guild_id",
	"channel_id", "channel_name", "archive_file",
}

// objectColumns hold JSON objects whose keys are merged into metadata, in this order,
// before the single-attribute legacy columns.
var objectColumns = []string{"metadata", "extra"}

// attributeColumns each hold one attribute, stored under the column name.
var attributeColumns = []string{"mentions", "reference", "reactions", "embeds"}

// IsLegacy reports whether raw_archive carries any legacy-only column.
func IsLegacy(columns []string) bool {
	for _, c := range columns {
		for _, l := range LegacyColumns {
			if c == l {
				return true
			}
		}
	}
	return false
}

// MigrateIfLegacy rewrites a legacy raw_archive into the current shape in one
// transaction. It is a no-op when the table is already current.
func MigrateIfLegacy(ctx context.Context, db *sql.DB) (MigrationReport, error) {
	columns, err := TableColumns(ctx, db, RawArchiveTable)
	if err != nil {
		return MigrationReport{}, err
	}
	if !IsLegacy(columns) {
		return MigrationReport{}, nil
	}

	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	if !have["id"] {
		return MigrationReport{}, fmt.Errorf("legacy %s has no id column", RawArchiveTable)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+migrationTable); err != nil {
		return MigrationReport{}, fmt.Errorf("failed to clear %s: %w", migrationTable, err)
	}
	if err := createRawArchive(ctx, tx, migrationTable); err != nil {
		return MigrationReport{}, err
	}

	var copied []string
	for _, c := range coreRowColumns {
		if have[c] {
			copied = append(copied, c)
		}
	}
	list := strings.Join(copied, ", ")
	copyQuery := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) SELECT %s FROM %s", migrationTable, list, list, RawArchiveTable)
	res, err := tx.ExecContext(ctx, copyQuery)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("failed to copy legacy rows: %w", err)
	}
	copiedRows, _ := res.RowsAffected()

	merged, lossy, err := mergeLegacyRows(ctx, tx, have)
	if err != nil {
		return MigrationReport{}, err
	}

	update, err := tx.PrepareContext(ctx, fmt.Sprintf("UPDATE %s SET metadata = ? WHERE id = ?", migrationTable))
	if err != nil {
		return MigrationReport{}, fmt.Errorf("failed to prepare metadata update: %w", err)
	}
	defer update.Close()
	for _, m := range merged {
		if _, err := update.ExecContext(ctx, m.metadata, m.id); err != nil {
			return MigrationReport{}, fmt.Errorf("failed to write metadata for row %s: %w", m.id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+RawArchiveTable); err != nil {
		return MigrationReport{}, fmt.Errorf("failed to drop legacy table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", migrationTable, RawArchiveTable)); err != nil {
		return MigrationReport{}, fmt.Errorf("failed to rename migrated table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MigrationReport{}, fmt.Errorf("failed to commit migration: %w", err)
	}

	report := MigrationReport{Migrated: true, Rows: int(copiedRows), Lossy: lossy}
	for _, d := range lossy {
		issues := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			issues = append(issues, f.String())
		}
		utils.Warn("database", "MigrateIfLegacy", fmt.Sprintf("row %s kept without: %s", d.ID, strings.Join(issues, "; ")))
	}
	utils.Info("database", "MigrateIfLegacy", fmt.Sprintf("migrated %d rows into the metadata shape, %d lossy", report.Rows, len(lossy)))
	return report, nil
}

type mergedRow struct {
	id       string
	metadata sql.NullString
}

// mergeLegacyRows reads every legacy row and folds its JSON columns into one metadata
// object. A field that fails to parse is skipped and reported; the row is kept.
func mergeLegacyRows(ctx context.Context, tx *sql.Tx, have map[string]bool) ([]mergedRow, []RowDiagnostic, error) {
	var sources []string
	for _, c := range append(append([]string{}, objectColumns...), attributeColumns...) {
		if have[c] {
			sources = append(sources, c)
		}
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s", strings.Join(sources, ", "), RawArchiveTable)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read legacy rows: %w", err)
	}

	type legacyRow struct {
		id     string
		values []sql.NullString
	}
	var legacy []legacyRow
	for rows.Next() {
		r := legacyRow{values: make([]sql.NullString, len(sources))}
		dest := []any{&r.id}
		for i := range r.values {
			dest = append(dest, &r.values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan legacy row: %w", err)
		}
		legacy = append(legacy, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, fmt.Errorf("failed to read legacy rows: %w", err)
	}
	rows.Close()

	var (
		merged []mergedRow
		lossy  []RowDiagnostic
	)
	for _, r := range legacy {
		md := models.Metadata{}
		var issues []normalize.FieldIssue
		for i, col := range sources {
			v := r.values[i]
			if !v.Valid {
				continue
			}
			issues = append(issues, mergeColumn(md, col, []byte(v.String))...)
		}

		column, err := normalize.MetadataColumn(md)
		if err != nil {
			return nil, nil, fmt.Errorf("row %s: %w", r.id, err)
		}
		merged = append(merged, mergedRow{id: r.id, metadata: column})
		if len(issues) > 0 {
			lossy = append(lossy, RowDiagnostic{ID: r.id, Fields: issues})
		}
	}
	return merged, lossy, nil
}

func mergeColumn(md models.Metadata, col string, data []byte) []normalize.FieldIssue {
	isObject := false
	for _, c := range objectColumns {
		if c == col {
			isObject = true
		}
	}
	if !isObject {
		if err := normalize.PreserveField(md, col, data); err != nil {
			return []normalize.FieldIssue{{Field: col, Err: err}}
		}
		return nil
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(data, &nested); err != nil {
		return []normalize.FieldIssue{{Field: col, Err: fmt.Errorf("not a JSON object: %w", err)}}
	}
	var issues []normalize.FieldIssue
	for _, key := range sortedRawKeys(nested) {
		if err := normalize.PreserveField(md, key, nested[key]); err != nil {
			issues = append(issues, normalize.FieldIssue{Field: col + "." + key, Err: err})
		}
	}
	return issues
}

func sortedRawKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
