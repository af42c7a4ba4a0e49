package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrlew/qrlew-go/internal/storage"
)

func newDatasetsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Manage stored dataset bundles",
	}
	cmd.AddCommand(newDatasetsListCmd(g), newDatasetsImportCmd(g), newDatasetsDeleteCmd(g))
	return cmd
}

func newDatasetsListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			names, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newDatasetsImportCmd(g *globals) *cobra.Command {
	var f datasetFlags
	cmd := &cobra.Command{
		Use:   "import NAME",
		Short: "Store wire documents as a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := &storage.Bundle{Name: args[0], Created: time.Now().UTC()}
			var err error
			if b.Dataset, err = readFile(f.datasetFile); err != nil {
				return err
			}
			if b.Schema, err = readFile(f.schemaFile); err != nil {
				return err
			}
			if b.Size, err = readFile(f.sizeFile); err != nil {
				return err
			}
			unit, err := readFile(f.unitFile)
			if err != nil {
				return err
			}
			if unit != "" {
				b.PrivacyUnit = []byte(unit)
			}

			store, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			if err := store.Save(cmd.Context(), b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", b.Name)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.datasetFile, "dataset", "", "dataset wire document")
	fs.StringVar(&f.schemaFile, "schema", "", "schema wire document")
	fs.StringVar(&f.sizeFile, "size", "", "size wire document (optional)")
	fs.StringVar(&f.unitFile, "privacy-unit", "", "privacy unit JSON file (optional)")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func newDatasetsDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			ok, err := store.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("dataset %s not found", args[0])
			}
			return store.Delete(cmd.Context(), args[0])
		},
	}
}
