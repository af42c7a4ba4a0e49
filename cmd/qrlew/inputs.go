package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrlew/qrlew-go/internal/storage"
	"github.com/qrlew/qrlew-go/pkg/qrlew"
)

// datasetFlags select a dataset either from a stored bundle or from wire
// document files.
type datasetFlags struct {
	bundle      string
	datasetFile string
	schemaFile  string
	sizeFile    string
	unitFile    string
	dialect     string
}

func (f *datasetFlags) register(cmd *cobra.Command, withUnit bool) {
	fs := cmd.Flags()
	fs.StringVar(&f.bundle, "bundle", "", "name of a stored dataset bundle")
	fs.StringVar(&f.datasetFile, "dataset", "", "dataset wire document")
	fs.StringVar(&f.schemaFile, "schema", "", "schema wire document")
	fs.StringVar(&f.sizeFile, "size", "", "size wire document (optional)")
	fs.StringVar(&f.dialect, "dialect", "", "SQL dialect (default from configuration)")
	if withUnit {
		fs.StringVar(&f.unitFile, "privacy-unit", "", "privacy unit JSON file (defaults to the bundle's)")
	}
	cmd.MarkFlagsMutuallyExclusive("bundle", "dataset")
	cmd.MarkFlagsMutuallyExclusive("bundle", "schema")
	cmd.MarkFlagsRequiredTogether("dataset", "schema")
}

func readFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// openStore opens the configured bundle store.
func openStore(ctx context.Context, g *globals) (*storage.Store, error) {
	var objects storage.ObjectStorage
	var err error
	switch g.cfg.Storage.Type {
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if g.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = g.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = g.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = g.cfg.Storage.S3.UsePathStyle
		objects, err = storage.NewS3Storage(ctx, g.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		objects, err = storage.NewLocalStorage(g.cfg.Storage.Path)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewStore(objects, g.cfg.Storage.Prefix), nil
}

// load returns the selected dataset, its privacy unit (nil when none is
// known) and the dialect to use.
func (f *datasetFlags) load(ctx context.Context, g *globals) (*qrlew.Dataset, *qrlew.PrivacyUnit, qrlew.Dialect, error) {
	d := g.cfg.DefaultDialect()
	if f.dialect != "" {
		var err error
		if d, err = qrlew.ParseDialect(f.dialect); err != nil {
			return nil, nil, d, err
		}
	}

	if f.bundle == "" && f.datasetFile == "" {
		return nil, nil, d, fmt.Errorf("one of --bundle or --dataset is required")
	}

	var docs [3]string
	var unit string
	if f.bundle != "" {
		store, err := openStore(ctx, g)
		if err != nil {
			return nil, nil, d, err
		}
		b, err := store.Load(ctx, f.bundle)
		if err != nil {
			return nil, nil, d, fmt.Errorf("load bundle %s: %w", f.bundle, err)
		}
		docs = [3]string{b.Dataset, b.Schema, b.Size}
		if len(b.PrivacyUnit) > 0 && string(b.PrivacyUnit) != "null" {
			unit = string(b.PrivacyUnit)
		}
	} else {
		for i, path := range []string{f.datasetFile, f.schemaFile, f.sizeFile} {
			s, err := readFile(path)
			if err != nil {
				return nil, nil, d, err
			}
			docs[i] = s
		}
	}
	if f.unitFile != "" {
		s, err := readFile(f.unitFile)
		if err != nil {
			return nil, nil, d, err
		}
		unit = s
	}

	ds, err := qrlew.NewDataset(docs[0], docs[1], docs[2])
	if err != nil {
		return nil, nil, d, err
	}
	if unit == "" {
		return ds, nil, d, nil
	}
	pu, err := qrlew.ParsePrivacyUnit(unit)
	if err != nil {
		return nil, nil, d, err
	}
	return ds, pu, d, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
