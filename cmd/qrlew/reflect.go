package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/qrlew/qrlew-go/internal/reflect"
	"github.com/qrlew/qrlew-go/internal/storage"
)

func newReflectCmd(g *globals) *cobra.Command {
	var (
		sqlitePath  string
		postgresURL string
		opts        reflect.Options
		outDir      string
		save        bool
		unitFile    string
	)
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Build dataset documents from a live database catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sqlitePath == "" && postgresURL == "" {
				return fmt.Errorf("one of --sqlite or --postgres is required")
			}
			if outDir == "" && !save {
				return fmt.Errorf("nothing to do, set --out or --save")
			}
			ctx := cmd.Context()

			start := time.Now()
			docs, err := reflectSource(ctx, sqlitePath, postgresURL, opts)
			if err != nil {
				return err
			}
			glog.V(1).Infof("reflect: %s in %s", opts.Name, time.Since(start))

			if outDir != "" {
				if err := writeDocuments(outDir, docs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outDir)
			}
			if save {
				unit, err := readFile(unitFile)
				if err != nil {
					return err
				}
				store, err := openStore(ctx, g)
				if err != nil {
					return err
				}
				b := &storage.Bundle{
					Name:    opts.Name,
					Dataset: docs.Dataset,
					Schema:  docs.Schema,
					Size:    docs.Size,
					Created: time.Now().UTC(),
				}
				if unit != "" {
					b.PrivacyUnit = []byte(unit)
				}
				if err := store.Save(ctx, b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", opts.Name)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&sqlitePath, "sqlite", "", "path of a SQLite database")
	fs.StringVar(&postgresURL, "postgres", "", "PostgreSQL connection URL")
	fs.StringVar(&opts.Name, "name", "", "dataset name")
	fs.StringVar(&opts.Schema, "db-schema", "", "database schema to reflect (default schema when empty)")
	fs.BoolVar(&opts.Ranges, "ranges", false, "probe the minimum and maximum of every orderable column")
	fs.IntVar(&opts.PossibleValuesThreshold, "values-threshold", 0, "enumerate columns with at most this many distinct values")
	fs.BoolVar(&opts.Nullable, "nullable", false, "make columns declared without NOT NULL optional")
	fs.StringVar(&outDir, "out", "", "directory to write dataset.json, schema.json and size.json to")
	fs.BoolVar(&save, "save", false, "save the dataset as a bundle named --name")
	fs.StringVar(&unitFile, "privacy-unit", "", "privacy unit JSON file stored with the bundle")
	cmd.MarkFlagsMutuallyExclusive("sqlite", "postgres")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func reflectSource(ctx context.Context, sqlitePath, postgresURL string, opts reflect.Options) (*reflect.Documents, error) {
	if sqlitePath != "" {
		src, err := reflect.NewSQLiteSource(sqlitePath)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return reflect.Reflected(ctx, src, opts)
	}
	src, err := reflect.ConnectPostgres(ctx, postgresURL)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return reflect.Reflected(ctx, src, opts)
}

func writeDocuments(dir string, docs *reflect.Documents) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, content := range map[string]string{
		"dataset.json": docs.Dataset,
		"schema.json":  docs.Schema,
		"size.json":    docs.Size,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
