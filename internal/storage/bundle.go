package storage

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"
	"github.com/golang/snappy"

	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/privacy"
)

// DefaultPrefix is the object prefix bundles are stored under.
const DefaultPrefix = "datasets"

const bundleExt = ".bundle"

var validate = validator.New()

// Bundle is a named dataset with its optional privacy unit, as stored. The
// documents are kept in their wire form so that a bundle round-trips byte for
// byte.
type Bundle struct {
	Name        string          `json:"name" validate:"required,max=128,excludesall=/"`
	Dataset     string          `json:"dataset" validate:"required"`
	Schema      string          `json:"schema" validate:"required"`
	Size        string          `json:"size,omitempty"`
	PrivacyUnit json.RawMessage `json:"privacy_unit,omitempty"`
	Created     time.Time       `json:"created"`
}

// NewBundle captures ds and pu (which may be nil) under name.
func NewBundle(name string, ds *dataset.Dataset, pu *privacy.PrivacyUnit) (*Bundle, error) {
	b := &Bundle{Name: name, Created: time.Now().UTC()}
	var err error
	if b.Dataset, err = ds.DatasetJSON(); err != nil {
		return nil, err
	}
	if b.Schema, err = ds.SchemaJSON(); err != nil {
		return nil, err
	}
	if b.Size, err = ds.SizeJSON(); err != nil {
		return nil, err
	}
	if pu != nil {
		if b.PrivacyUnit, err = pu.Encode(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Open decodes the stored documents. The privacy unit is nil when none was
// stored.
func (b *Bundle) Open() (*dataset.Dataset, *privacy.PrivacyUnit, error) {
	ds, err := dataset.FromWire(b.Dataset, b.Schema, b.Size)
	if err != nil {
		return nil, nil, err
	}
	if len(b.PrivacyUnit) == 0 || string(b.PrivacyUnit) == "null" {
		return ds, nil, nil
	}
	pu, err := privacy.Decode(b.PrivacyUnit)
	if err != nil {
		return nil, nil, err
	}
	if err := pu.Validate(ds); err != nil {
		return nil, nil, err
	}
	return ds, pu, nil
}

// encodeBundle is snappy-compressed JSON.
func encodeBundle(b *Bundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, qerrors.NewInternalError("encode bundle "+b.Name, err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeBundle(data []byte) (*Bundle, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, qerrors.NewMalformedInput("bundle is not snappy compressed", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, qerrors.NewMalformedInput("bundle is not valid JSON", err)
	}
	if err := validate.Struct(&b); err != nil {
		return nil, qerrors.NewMalformedInput("bundle has an unexpected shape", err)
	}
	return &b, nil
}

// Store keeps bundles in an ObjectStorage under a prefix.
type Store struct {
	objects ObjectStorage
	prefix  string
}

// NewStore creates a bundle store. An empty prefix is DefaultPrefix.
func NewStore(objects ObjectStorage, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{objects: objects, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) objectPath(name string) string {
	return path.Join(s.prefix, name+bundleExt)
}

// Save validates b, checks that its documents decode, and writes it,
// replacing any bundle of the same name.
func (s *Store) Save(ctx context.Context, b *Bundle) error {
	if err := validate.Struct(b); err != nil {
		return qerrors.NewMalformedInput("invalid bundle", err)
	}
	if _, _, err := b.Open(); err != nil {
		return err
	}
	data, err := encodeBundle(b)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, s.objectPath(b.Name), data); err != nil {
		return err
	}
	glog.V(1).Infof("storage: saved bundle %s (%d bytes)", b.Name, len(data))
	return nil
}

// Load reads the bundle called name. A missing bundle is ErrObjectNotFound.
func (s *Store) Load(ctx context.Context, name string) (*Bundle, error) {
	data, err := s.objects.Get(ctx, s.objectPath(name))
	if err != nil {
		return nil, err
	}
	b, err := decodeBundle(data)
	if err != nil {
		return nil, err
	}
	if b.Name != name {
		return nil, qerrors.NewMalformedInput("bundle "+name+" is stored as "+b.Name, nil)
	}
	return b, nil
}

// Delete removes the bundle called name.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.objects.Delete(ctx, s.objectPath(name))
}

// Exists reports whether a bundle called name is stored.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	return s.objects.Exists(ctx, s.objectPath(name))
}

// List returns the stored bundle names, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	objects, err := s.objects.ListObjects(ctx, s.prefix+"/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		if path.Dir(o) != s.prefix || !strings.HasSuffix(o, bundleExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(path.Base(o), bundleExt))
	}
	sort.Strings(names)
	return names, nil
}
