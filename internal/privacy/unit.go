// Package privacy declares which rows belong to which privacy unit and
// rewrites relations so that every output row carries its unit and the number
// of rows per unit is bounded.
package privacy

import (
	"encoding/json"
	"strings"

	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// RowKey as an entry key makes every row of the table its own unit.
const RowKey = "_PRIVACY_UNIT_ROW_"

// Step follows a foreign key: LocalKey of the current table references
// ForeignKey of ForeignTable.
type Step struct {
	LocalKey     string
	ForeignTable string
	ForeignKey   string
}

// Entry protects one table. Key is a column of the last table reached by
// Path, or RowKey. Weight optionally names a numeric column of Table holding
// a per-row weight.
type Entry struct {
	Table  string
	Path   []Step
	Key    string
	Weight string
}

// PrivacyUnit lists the protected tables. With GroupLevel the key value
// itself identifies the unit instead of its hash.
type PrivacyUnit struct {
	Entries    []Entry
	GroupLevel bool
}

// Entry returns the entry protecting t.
func (p *PrivacyUnit) Entry(t *relation.Table) (Entry, bool) {
	for _, e := range p.Entries {
		if matchesTable(t.Path, e.Table) {
			return e, true
		}
	}
	return Entry{}, false
}

// Unit names the logical unit an entry protects. Two entries protect the same
// unit when they end on the same table and key.
func (e Entry) Unit() string {
	if e.Key == RowKey {
		return RowKey + ":" + e.Table
	}
	last := e.Table
	if len(e.Path) > 0 {
		last = e.Path[len(e.Path)-1].ForeignTable
	}
	return last + "." + e.Key
}

func matchesTable(path []string, name string) bool {
	want := strings.Split(name, ".")
	if len(want) > len(path) {
		return false
	}
	tail := path[len(path)-len(want):]
	for i := range want {
		if tail[i] != want[i] {
			return false
		}
	}
	return true
}

// Decode reads the privacy unit parameter: a JSON array of entries, each
// [table, [[local_key, foreign_table, foreign_key], ...], key] with an
// optional weight column after the key, optionally wrapped as
// [entries, is_group_level].
func Decode(raw []byte) (*PrivacyUnit, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, qerrors.NewMalformedInput("privacy unit is not a JSON array", err)
	}
	pu := &PrivacyUnit{}
	if len(top) == 2 && isArray(top[0]) && isBool(top[1]) {
		if err := json.Unmarshal(top[1], &pu.GroupLevel); err != nil {
			return nil, qerrors.NewMalformedInput("is_group_level is not a boolean", err)
		}
		if err := json.Unmarshal(top[0], &top); err != nil {
			return nil, qerrors.NewMalformedInput("privacy unit entries are not an array", err)
		}
	}
	for _, item := range top {
		e, err := decodeEntry(item)
		if err != nil {
			return nil, err
		}
		pu.Entries = append(pu.Entries, e)
	}
	return pu, nil
}

func isArray(m json.RawMessage) bool {
	s := strings.TrimSpace(string(m))
	return strings.HasPrefix(s, "[")
}

func isBool(m json.RawMessage) bool {
	s := strings.TrimSpace(string(m))
	return s == "true" || s == "false"
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 3 || len(parts) > 4 {
		return Entry{}, qerrors.NewMalformedInput("privacy unit entry must be [table, path, key] or [table, path, key, weight]", err)
	}
	var e Entry
	var steps [][]string
	fields := []interface{}{&e.Table, &steps, &e.Key}
	if len(parts) == 4 {
		fields = append(fields, &e.Weight)
	}
	for i, f := range fields {
		if err := json.Unmarshal(parts[i], f); err != nil {
			return Entry{}, qerrors.NewMalformedInput("privacy unit entry "+string(raw), err)
		}
	}
	for _, s := range steps {
		if len(s) != 3 {
			return Entry{}, qerrors.NewMalformedInput("join path step must be [local_key, foreign_table, foreign_key]", nil)
		}
		e.Path = append(e.Path, Step{LocalKey: s[0], ForeignTable: s[1], ForeignKey: s[2]})
	}
	return e, nil
}

// Encode writes p in the form Decode reads.
func (p *PrivacyUnit) Encode() ([]byte, error) {
	entries := make([][]interface{}, len(p.Entries))
	for i, e := range p.Entries {
		steps := make([][]string, len(e.Path))
		for j, s := range e.Path {
			steps[j] = []string{s.LocalKey, s.ForeignTable, s.ForeignKey}
		}
		entries[i] = []interface{}{e.Table, steps, e.Key}
		if e.Weight != "" {
			entries[i] = append(entries[i], e.Weight)
		}
	}
	if p.GroupLevel {
		return json.Marshal([]interface{}{entries, true})
	}
	return json.Marshal(entries)
}

// Validate checks that every entry resolves against ds: the tables exist, the
// keys along each path are columns of the table they belong to and the
// weight column is numeric.
func (p *PrivacyUnit) Validate(ds *dataset.Dataset) error {
	seen := make(map[string]bool)
	for _, e := range p.Entries {
		t, err := resolveTable(ds, e.Table)
		if err != nil {
			return err
		}
		if seen[t.Name()] {
			return qerrors.NewInvalidPrivacyUnit("table %s is listed twice", e.Table)
		}
		seen[t.Name()] = true
		if e.Weight != "" {
			f, ok := t.Schema().Field(e.Weight)
			if !ok {
				return qerrors.NewInvalidPrivacyUnit("weight %s is not a column of %s", e.Weight, e.Table)
			}
			if _, ok := datatype.BoundsOf(f.Type); !ok {
				return qerrors.NewInvalidPrivacyUnit("weight %s of %s is not numeric", e.Weight, e.Table)
			}
		}
		if e.Key == RowKey {
			if len(e.Path) > 0 {
				return qerrors.NewInvalidPrivacyUnit("%s cannot follow a join path", RowKey)
			}
			continue
		}
		cur := t
		for _, s := range e.Path {
			if _, ok := cur.Schema().Field(s.LocalKey); !ok {
				return qerrors.NewInvalidPrivacyUnit("%s is not a column of %s", s.LocalKey, cur.Name())
			}
			next, err := resolveTable(ds, s.ForeignTable)
			if err != nil {
				return err
			}
			if _, ok := next.Schema().Field(s.ForeignKey); !ok {
				return qerrors.NewInvalidPrivacyUnit("%s is not a column of %s", s.ForeignKey, next.Name())
			}
			cur = next
		}
		if _, ok := cur.Schema().Field(e.Key); !ok {
			return qerrors.NewInvalidPrivacyUnit("%s is not a column of %s", e.Key, cur.Name())
		}
	}
	return nil
}

func resolveTable(ds *dataset.Dataset, name string) (*relation.Table, error) {
	t, err := ds.ResolveTable(strings.Split(name, "."))
	if err != nil {
		return nil, qerrors.NewInvalidPrivacyUnit("table %s does not resolve: %v", name, err)
	}
	return t, nil
}
