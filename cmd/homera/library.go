package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"homeraAi/internal/storage"
)

var (
	dbFlag        string
	userFlag      string
	gzipFlag      bool
	zstdFlag      bool
	exportOutFlag string
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Work with saved transformation results",
}

var libraryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a user's saved results as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gzipFlag && zstdFlag {
			return errors.New("choose one of --gzip or --zstd")
		}
		store, err := storage.NewStore(cmd.Context(), dbFlag)
		if err != nil {
			return err
		}
		defer store.Close()

		var out io.Writer = cmd.OutOrStdout()
		if exportOutFlag != "" {
			f, err := os.Create(exportOutFlag)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		codec := compressionNone
		switch {
		case gzipFlag:
			codec = compressionGzip
		case zstdFlag:
			codec = compressionZstd
		}
		n, err := exportLibrary(cmd.Context(), store, userFlag, out, codec)
		if err != nil {
			return err
		}
		log.Info().Int("results", n).Str("user_id", userFlag).Msg("library exported")
		return nil
	},
}

func init() {
	libraryExportCmd.Flags().StringVar(&dbFlag, "db", os.Getenv("DATABASE_URL"), "Database URL (postgres://, sqlite:<path>)")
	libraryExportCmd.Flags().StringVar(&userFlag, "user", "", "User id to export")
	libraryExportCmd.Flags().BoolVar(&gzipFlag, "gzip", false, "Compress output with gzip")
	libraryExportCmd.Flags().BoolVar(&zstdFlag, "zstd", false, "Compress output with zstd")
	libraryExportCmd.Flags().StringVarP(&exportOutFlag, "out", "o", "", "Output file (default stdout)")
	_ = libraryExportCmd.MarkFlagRequired("user")
	libraryCmd.AddCommand(libraryExportCmd)
}

type compression int

const (
	compressionNone compression = iota
	compressionGzip
	compressionZstd
)

// exportLibrary streams one JSON object per saved result, newest first.
func exportLibrary(ctx context.Context, store storage.Store, userID string, w io.Writer, codec compression) (int, error) {
	results, err := store.ListResults(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list results: %w", err)
	}

	var closer io.Closer
	switch codec {
	case compressionGzip:
		zw := gzip.NewWriter(w)
		w, closer = zw, zw
	case compressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return 0, fmt.Errorf("zstd writer: %w", err)
		}
		w, closer = zw, zw
	}

	enc := json.NewEncoder(w)
	for _, result := range results {
		if err := enc.Encode(result); err != nil {
			return 0, fmt.Errorf("encode result %s: %w", result.ID, err)
		}
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return 0, fmt.Errorf("flush compressed output: %w", err)
		}
	}
	return len(results), nil
}
