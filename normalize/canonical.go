package normalize

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"archive-bot/models"
)

// CanonicalJSON marshals v with object keys sorted at every level and integers kept
// verbatim, so the same metadata always yields the same text no matter whether it was
// built from typed values or decoded from a file.
func CanonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	generic, err := decodeGeneric(data)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// MetadataColumn renders metadata for the metadata column; empty metadata is NULL.
func MetadataColumn(md models.Metadata) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	text, err := CanonicalJSON(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: text, Valid: true}, nil
}

func decodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// isEmptyValue reports whether a decoded JSON value is null, {} or [].
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// isEmptyJSON reports whether raw JSON text is null, {}, [] or blank.
func isEmptyJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return true
	}
	v, err := decodeGeneric(trimmed)
	if err != nil {
		return false
	}
	return isEmptyValue(v)
}
