package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"archive-bot/models"

	"github.com/bwmarrin/discordgo"
)

// ErrUnknownRecordShape is returned for archive records that match no known version.
var ErrUnknownRecordShape = errors.New("unrecognized archive record shape")

// RecordVersion tags the historical shape an archive record was written in.
type RecordVersion int

const (
	RecordUnknown RecordVersion = iota
	// RecordV1Flat keeps attributes as top-level keys next to the core fields.
	RecordV1Flat
	// RecordV2Metadata nests every non-core attribute under "metadata".
	RecordV2Metadata
)

// String returns the version name used in reports.
func (v RecordVersion) String() string {
	switch v {
	case RecordV1Flat:
		return "v1-flat"
	case RecordV2Metadata:
		return "v2-metadata"
	default:
		return "unknown"
	}
}

// FieldIssue is one sub-field dropped while upgrading a record or row.
type FieldIssue struct {
	Field string
	Err   error
}

// String formats the issue for logs and reports.
func (f FieldIssue) String() string {
	return fmt.Sprintf("%s: %v", f.Field, f.Err)
}

// Record is a decoded archive record upgraded to the current shape.
type Record struct {
	Message models.ArchivedMessage
	Version RecordVersion
	Issues  []FieldIssue
}

const metadataKey = "metadata"

// DetectRecordVersion classifies a record by its top-level keys.
func DetectRecordVersion(fields map[string]json.RawMessage) RecordVersion {
	if _, ok := fields["id"]; !ok {
		return RecordUnknown
	}
	_, hasMetadata := fields[metadataKey]
	_, hasTimestamp := fields["createdTimestamp"]
	extras := extraKeys(fields)

	switch {
	case hasMetadata && len(extras) > 0:
		return RecordUnknown
	case hasMetadata:
		return RecordV2Metadata
	case len(extras) > 0 || !hasTimestamp:
		return RecordV1Flat
	default:
		return RecordV2Metadata
	}
}

// DecodeRecord decodes one archive record of any known version and upgrades it.
func DecodeRecord(data []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnknownRecordShape, err)
	}

	switch version := DetectRecordVersion(fields); version {
	case RecordV1Flat:
		return upgradeV1(fields)
	case RecordV2Metadata:
		return upgradeV2(fields)
	default:
		return Record{}, fmt.Errorf("%w: keys %v", ErrUnknownRecordShape, sortedKeys(fields))
	}
}

func upgradeV1(fields map[string]json.RawMessage) (Record, error) {
	msg, err := parseCore(fields, true)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Version: RecordV1Flat}
	md := models.Metadata{}
	for _, key := range extraKeys(fields) {
		if err := FoldField(md, key, fields[key]); err != nil {
			rec.Issues = append(rec.Issues, FieldIssue{Field: key, Err: err})
		}
	}
	if len(md) > 0 {
		msg.Metadata = md
	}
	rec.Message = msg
	return rec, nil
}

func upgradeV2(fields map[string]json.RawMessage) (Record, error) {
	msg, err := parseCore(fields, false)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Version: RecordV2Metadata}
	raw, ok := fields[metadataKey]
	if !ok || isEmptyJSON(raw) {
		rec.Message = msg
		return rec, nil
	}

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return Record{}, fmt.Errorf("%w: metadata is not an object", ErrUnknownRecordShape)
	}

	md := models.Metadata{}
	for _, key := range sortedKeys(nested) {
		if err := FoldField(md, key, nested[key]); err != nil {
			rec.Issues = append(rec.Issues, FieldIssue{Field: key, Err: err})
		}
	}
	if len(md) > 0 {
		msg.Metadata = md
	}
	rec.Message = msg
	return rec, nil
}

// PreserveField adds one attribute to metadata exactly as decoded. Core keys are
// dropped and null/{}/[] values are omitted; reactions are kept in their stored shape.
func PreserveField(md models.Metadata, key string, data []byte) error {
	if isCoreKey(key) || isEmptyJSON(data) {
		return nil
	}
	v, err := decodeGeneric(data)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !isEmptyValue(v) {
		md[key] = v
	}
	return nil
}

// FoldField adds one attribute to metadata. Core keys are dropped, null/{}/[] values
// are omitted, and reactions are normalized. A value that fails to parse is not added.
func FoldField(md models.Metadata, key string, data []byte) error {
	if isCoreKey(key) || isEmptyJSON(data) {
		return nil
	}

	if key == KeyReactions {
		reactions, err := NormalizeReactionsJSON(data)
		if err != nil {
			return err
		}
		if len(reactions) > 0 {
			md[key] = reactions
		}
		return nil
	}

	v, err := decodeGeneric(data)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !isEmptyValue(v) {
		md[key] = v
	}
	return nil
}

func parseCore(fields map[string]json.RawMessage, deriveTimestamp bool) (models.ArchivedMessage, error) {
	var msg models.ArchivedMessage

	if err := json.Unmarshal(fields["id"], &msg.ID); err != nil || msg.ID == "" {
		return msg, fmt.Errorf("%w: id must be a non-empty string", ErrUnknownRecordShape)
	}

	if raw, ok := fields["createdTimestamp"]; ok {
		ts, err := parseMillis(raw)
		if err != nil {
			return msg, fmt.Errorf("%w: message %s: %v", ErrUnknownRecordShape, msg.ID, err)
		}
		msg.CreatedTimestamp = ts
	} else if deriveTimestamp {
		created, err := discordgo.SnowflakeTimestamp(msg.ID)
		if err != nil {
			return msg, fmt.Errorf("%w: message %s has no timestamp and an unparsable id", ErrUnknownRecordShape, msg.ID)
		}
		msg.CreatedTimestamp = created.UnixMilli()
	} else {
		return msg, fmt.Errorf("%w: message %s has no createdTimestamp", ErrUnknownRecordShape, msg.ID)
	}

	if raw, ok := fields["content"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &msg.Content); err != nil {
			return msg, fmt.Errorf("%w: message %s content is not a string", ErrUnknownRecordShape, msg.ID)
		}
	}
	return msg, nil
}

// parseMillis accepts an integer, or a float with no fractional part.
func parseMillis(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("createdTimestamp is not a number")
	}
	if ts, err := n.Int64(); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("createdTimestamp %s is not an integer", n.String())
	}
	return int64(f), nil
}

func isCoreKey(key string) bool {
	for _, k := range CoreKeys {
		if k == key {
			return true
		}
	}
	return false
}

func extraKeys(fields map[string]json.RawMessage) []string {
	var keys []string
	for _, k := range sortedKeys(fields) {
		if isCoreKey(k) || k == metadataKey {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
