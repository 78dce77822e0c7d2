package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"estimator/pkg/material"
	"estimator/pkg/storage"
	"estimator/pkg/version"
)

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the estimator page and API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.serve(cmd.Context())
		},
	}
}

func newExportCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the persisted estimate as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			kv, err := storage.Open(ctx, rt.cfg.StorageOptions())
			if err != nil {
				return fmt.Errorf("unable to open %s storage: %w", rt.cfg.Storage, err)
			}
			defer kv.Close()

			key := rt.cfg.StorageKey
			data, ok, err := kv.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("load %q: %w", key, err)
			}
			var items []material.Item
			if ok {
				if items, err = material.Decode(data); err != nil {
					return &material.ReadError{Key: key, Err: err}
				}
			}
			out, err := material.Encode(items)
			if err != nil {
				return err
			}
			rt.logger.Debug("estimate exported", "key", key, "items", len(items))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newImportCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the persisted estimate with the items in FILE (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			items, err := material.Decode(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			kv, err := storage.Open(ctx, rt.cfg.StorageOptions())
			if err != nil {
				return fmt.Errorf("unable to open %s storage: %w", rt.cfg.Storage, err)
			}
			defer kv.Close()

			var writeErr error
			store, err := material.Open(ctx, kv,
				material.WithKey(rt.cfg.StorageKey),
				material.WithLogger(rt.logger),
				material.WithPersistErrorHandler(func(err error) { writeErr = err }),
			)
			if err != nil {
				return fmt.Errorf("unable to load the estimate: %w", err)
			}
			defer store.Close()

			if err := store.Set(ctx, items); err != nil {
				return err
			}
			if writeErr != nil {
				return writeErr
			}
			rt.logger.Info("estimate imported", "key", store.Key(), "items", len(items))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d items into %q\n", len(items), store.Key())
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the application version",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "estimator version %s\n", version.Version())
			return err
		},
	}
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
