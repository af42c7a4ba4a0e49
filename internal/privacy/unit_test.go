package privacy

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

const shopDatasetJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Dataset",
	"uuid": "4f1c2a7be0d94c5e8a3b6d9f0e1a2b3c",
	"name": "shop",
	"spec": {},
	"properties": {}
}`

const shopSchemaJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Schema",
	"uuid": "7a6b5c4d3e2f40118293a4b5c6d7e8f0",
	"dataset": "4f1c2a7be0d94c5e8a3b6d9f0e1a2b3c",
	"name": "shop",
	"type": {"name": "Union", "union": {"fields": [
		{"name": "users", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 1000}}},
			{"name": "name", "type": {"name": "Text UTF-8", "text": {}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 18, "max": 90}}}
		]}}},
		{"name": "orders", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 100000}}},
			{"name": "user_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 1000}}},
			{"name": "amount", "type": {"name": "Float64", "float": {"min": 0, "max": 100}}},
			{"name": "share", "type": {"name": "Float64", "float": {"min": 0, "max": 1}}}
		]}}},
		{"name": "items", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "order_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 100000}}},
			{"name": "price", "type": {"name": "Float64", "float": {"min": 0, "max": 50}}}
		]}}},
		{"name": "census", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 20, "max": 90}}},
			{"name": "workclass", "type": {"name": "Text UTF-8", "text": {}}}
		]}}},
		{"name": "synthetic_users", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 1000}}},
			{"name": "name", "type": {"name": "Text UTF-8", "text": {}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 18, "max": 90}}}
		]}}},
		{"name": "regions", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "code", "type": {"name": "Integer", "integer": {"min": 1, "max": 5}}},
			{"name": "label", "type": {"name": "Text UTF-8", "text": {}}}
		]}}}
	]}, "properties": {"public_fields": "[\"regions\"]"}}
}`

const shopSizeJSON = `{
	"uuid": "1b2c3d4e5f6a47b8c9d0e1f2a3b4c5d6",
	"dataset": "4f1c2a7be0d94c5e8a3b6d9f0e1a2b3c",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "users", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 100}}},
		{"name": "orders", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 1000}}},
		{"name": "items", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 5000}}},
		{"name": "census", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 199}}},
		{"name": "regions", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 5}}}
	]}}
}`

func shopDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromWire(shopDatasetJSON, shopSchemaJSON, shopSizeJSON)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	return ds
}

// shopUnit protects users, and orders and items through their owner.
func shopUnit() *PrivacyUnit {
	return &PrivacyUnit{Entries: []Entry{
		{Table: "users", Key: "id"},
		{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"}}, Key: "id"},
		{Table: "items", Path: []Step{
			{LocalKey: "order_id", ForeignTable: "orders", ForeignKey: "id"},
			{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"},
		}, Key: "id"},
		{Table: "census", Key: RowKey},
	}}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *PrivacyUnit
	}{
		{
			name: "triples",
			raw:  `[["census", [], "_PRIVACY_UNIT_ROW_"], ["orders", [["user_id", "users", "id"]], "id"]]`,
			want: &PrivacyUnit{Entries: []Entry{
				{Table: "census", Key: RowKey},
				{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"}}, Key: "id"},
			}},
		},
		{
			name: "weighted",
			raw:  `[["orders", [["user_id", "users", "id"]], "id", "share"]]`,
			want: &PrivacyUnit{Entries: []Entry{
				{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"}}, Key: "id", Weight: "share"},
			}},
		},
		{
			name: "group level",
			raw:  `[[["users", [], "id"]], true]`,
			want: &PrivacyUnit{Entries: []Entry{{Table: "users", Key: "id"}}, GroupLevel: true},
		},
		{
			name: "empty",
			raw:  `[]`,
			want: &PrivacyUnit{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
			encoded, err := got.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			again, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(Encode): %v", err)
			}
			if diff := cmp.Diff(got, again); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"census": []}`,
		`[["census", []]]`,
		`[["census", [["user_id", "users"]], "id"]]`,
		`[["census", [], 3]]`,
		`[["a", [], "id", "w", "extra"]]`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, qerrors.ErrMalformedInput) {
			t.Errorf("Decode(%s) = %v, want MalformedInput", raw, err)
		}
	}
}

func TestValidate(t *testing.T) {
	ds := shopDataset(t)
	if err := shopUnit().Validate(ds); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tests := []struct {
		name  string
		entry Entry
	}{
		{"unknown table", Entry{Table: "missing", Key: "id"}},
		{"unknown key", Entry{Table: "users", Key: "uid"}},
		{"unknown local key", Entry{Table: "orders", Path: []Step{{LocalKey: "owner", ForeignTable: "users", ForeignKey: "id"}}, Key: "id"}},
		{"unknown foreign table", Entry{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "people", ForeignKey: "id"}}, Key: "id"}},
		{"unknown foreign key", Entry{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "uid"}}, Key: "id"}},
		{"row key after path", Entry{Table: "orders", Path: []Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"}}, Key: RowKey}},
		{"text weight", Entry{Table: "users", Key: "id", Weight: "name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pu := &PrivacyUnit{Entries: []Entry{tt.entry}}
			if err := pu.Validate(ds); !errors.Is(err, qerrors.ErrInvalidPrivacyUnitSpec) {
				t.Errorf("got %v, want InvalidPrivacyUnitSpec", err)
			}
		})
	}
	dup := &PrivacyUnit{Entries: []Entry{{Table: "users", Key: "id"}, {Table: "shop.users", Key: "id"}}}
	if err := dup.Validate(ds); !errors.Is(err, qerrors.ErrInvalidPrivacyUnitSpec) {
		t.Errorf("duplicate entry: got %v, want InvalidPrivacyUnitSpec", err)
	}
}

func TestMultiplicity(t *testing.T) {
	tests := []struct {
		params  Parameters
		sizeMax int64
		want    int64
	}{
		{DefaultParameters(), 100000, 100},
		{DefaultParameters(), 199, 19},
		{DefaultParameters(), 5, 1},
		{DefaultParameters(), -1, 100},
		{Parameters{MaxMultiplicity: 3.7, MaxMultiplicityShare: 1}, 1000, 3},
		{Parameters{MaxMultiplicity: 0.5, MaxMultiplicityShare: 1}, 1000, 1},
	}
	for _, tt := range tests {
		if got := tt.params.Multiplicity(tt.sizeMax); got != tt.want {
			t.Errorf("Multiplicity(%v, %d) = %d, want %d", tt.params, tt.sizeMax, got, tt.want)
		}
	}
}

func TestParametersValidate(t *testing.T) {
	if err := DefaultParameters().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	bad := []Parameters{
		{MaxMultiplicity: 0, MaxMultiplicityShare: 0.1},
		{MaxMultiplicity: 10, MaxMultiplicityShare: 1.5},
		{MaxMultiplicity: 10, MaxMultiplicityShare: 0.1, Strategy: Strategy(7)},
		{MaxMultiplicity: 10, MaxMultiplicityShare: 0.1, SyntheticData: []SyntheticPair{{Original: []string{"users"}}}},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, qerrors.ErrMalformedInput) {
			t.Errorf("Validate(%+v) = %v, want MalformedInput", p, err)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", Hard, false},
		{"hard", Hard, false},
		{"Soft", Soft, false},
		{"lenient", Hard, true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v, error %t", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
