package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/golang/snappy"
	"github.com/google/go-cmp/cmp"

	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/privacy"
)

const libraryDatasetJSON = `{"uuid": "4f3e2d1c0b0a49f8e7d6c5b4a3928170", "name": "library"}`

const librarySchemaJSON = `{
	"uuid": "1a2b3c4d5e6f4a7b8c9d0e1f2a3b4c5d",
	"name": "library",
	"type": {"name": "Union", "union": {"fields": [
		{"name": "readers", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 7, "max": 99}}}
		]}}},
		{"name": "loans", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "reader_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "days", "type": {"name": "Integer", "integer": {"min": 0, "max": 60}}}
		]}}}
	]}}
}`

const librarySizeJSON = `{
	"uuid": "8e7d6c5b4a3942e1d0c9b8a7f6e5d4c3",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "readers", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 500}}},
		{"name": "loans", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 4000}}}
	]}}
}`

func libraryDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromWire(libraryDatasetJSON, librarySchemaJSON, librarySizeJSON)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	return ds
}

func libraryUnit() *privacy.PrivacyUnit {
	return &privacy.PrivacyUnit{Entries: []privacy.Entry{
		{Table: "readers", Key: "id"},
		{Table: "loans", Path: []privacy.Step{{LocalKey: "reader_id", ForeignTable: "readers", ForeignKey: "id"}}, Key: "id"},
	}}
}

func newTestStore(t *testing.T) (*Store, *LocalStorage) {
	t.Helper()
	objects, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return NewStore(objects, ""), objects
}

func TestStore_SaveLoad(t *testing.T) {
	store, objects := newTestStore(t)
	ctx := context.Background()
	ds := libraryDataset(t)

	b, err := NewBundle("library", ds, libraryUnit())
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	if err := store.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := objects.Get(ctx, "datasets/library.bundle")
	if err != nil {
		t.Fatalf("bundle object missing: %v", err)
	}
	if _, err := snappy.Decode(nil, raw); err != nil {
		t.Errorf("stored bundle is not snappy encoded: %v", err)
	}

	got, err := store.Load(ctx, "library")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	opened, pu, err := got.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Name() != ds.Name() || len(opened.Relations()) != len(ds.Relations()) {
		t.Errorf("Open returned %s, want %s", opened, ds)
	}
	if diff := cmp.Diff(libraryUnit(), pu); diff != "" {
		t.Errorf("privacy unit mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_WithoutPrivacyUnit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	b, err := NewBundle("plain", libraryDataset(t), nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	if err := store.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, "plain")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, pu, err := got.Open(); err != nil || pu != nil {
		t.Errorf("Open = %v, %v; want no privacy unit", pu, err)
	}
}

func TestStore_SaveRejects(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	ds := libraryDataset(t)

	good, err := NewBundle("library", ds, nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(b Bundle) *Bundle
		want   error
	}{
		{"empty name", func(b Bundle) *Bundle { b.Name = ""; return &b }, qerrors.ErrMalformedInput},
		{"slash in name", func(b Bundle) *Bundle { b.Name = "../x"; return &b }, qerrors.ErrMalformedInput},
		{"no schema", func(b Bundle) *Bundle { b.Schema = ""; return &b }, qerrors.ErrMalformedInput},
		{"bad schema", func(b Bundle) *Bundle { b.Schema = "{"; return &b }, qerrors.ErrMalformedInput},
		{
			"unresolved privacy unit",
			func(b Bundle) *Bundle { b.PrivacyUnit = []byte(`[["patients", [], "id"]]`); return &b },
			qerrors.ErrInvalidPrivacyUnitSpec,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Save(ctx, tt.mutate(*good))
			if !errors.Is(err, tt.want) {
				t.Errorf("Save() error = %v, want %v", err, tt.want)
			}
		})
	}

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("rejected bundles were stored: %v", names)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	store, objects := newTestStore(t)
	ctx := context.Background()

	if err := objects.Put(ctx, "datasets/broken.bundle", []byte("not snappy")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Load(ctx, "broken"); !errors.Is(err, qerrors.ErrMalformedInput) {
		t.Errorf("Load corrupt bundle: got %v, want MalformedInput", err)
	}
	if _, err := store.Load(ctx, "absent"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Load absent bundle: got %v, want ErrObjectNotFound", err)
	}
}

func TestStore_ListDelete(t *testing.T) {
	store, objects := newTestStore(t)
	ctx := context.Background()
	ds := libraryDataset(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		b, err := NewBundle(name, ds, nil)
		if err != nil {
			t.Fatalf("NewBundle: %v", err)
		}
		if err := store.Save(ctx, b); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
	}
	if err := objects.Put(ctx, "datasets/notes.txt", []byte("ignored")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, "mid"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, err := store.Exists(ctx, "mid"); err != nil || ok {
		t.Errorf("Exists after Delete = %t, %v", ok, err)
	}
}

func TestBatchLoader(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	ds := libraryDataset(t)

	var names []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("library_%d", i)
		b, err := NewBundle(name, ds, libraryUnit())
		if err != nil {
			t.Fatalf("NewBundle: %v", err)
		}
		if err := store.Save(ctx, b); err != nil {
			t.Fatalf("Save: %v", err)
		}
		names = append(names, name)
	}

	loader := NewBatchLoader(store, 3)
	result, err := loader.Load(ctx, append(names, "missing", names[0]))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Bundles) != len(names) || result.Loads != len(names) {
		t.Errorf("loaded %d bundles (%d loads), want %d", len(result.Bundles), result.Loads, len(names))
	}
	if !errors.Is(result.Errors["missing"], ErrObjectNotFound) || len(result.Errors) != 1 {
		t.Errorf("errors = %v, want only missing", result.Errors)
	}
	if got := result.Bundles["library_3"]; got == nil || got.Unit == nil || got.Dataset.Name() != "library" {
		t.Errorf("library_3 = %+v", got)
	}

	again, err := loader.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if again.CacheHits != len(names) || again.Loads != 0 {
		t.Errorf("second load: %d cache hits, %d loads; want %d, 0", again.CacheHits, again.Loads, len(names))
	}

	loader.Invalidate("library_3")
	if err := store.Delete(ctx, "library_3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := loader.Get(ctx, "library_3"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get after invalidate: got %v, want ErrObjectNotFound", err)
	}
	if o, err := loader.Get(ctx, "library_4"); err != nil || o.Bundle.Name != "library_4" {
		t.Errorf("Get(library_4) = %v, %v", o, err)
	}
}

func TestBatchLoader_CancelledContext(t *testing.T) {
	store, _ := newTestStore(t)
	loader := NewBatchLoader(store, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := loader.Load(ctx, []string{"a", "b"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
