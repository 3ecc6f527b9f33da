package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/preview"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspects and maintains the preview cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Prints every cached preview as JSON",
			Args:  cobra.NoArgs,
			RunE:  runCacheList,
		},
		&cobra.Command{
			Use:   "clear <url>",
			Short: "Removes the cached preview for a URL",
			Args:  cobra.ExactArgs(1),
			RunE:  runCacheClear,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Prints the cache server's INFO report",
			Args:  cobra.NoArgs,
			RunE:  runCacheStats,
		},
		&cobra.Command{
			Use:         "decode <key>",
			Short:       "Prints the URL encoded in a cache key",
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{skipAppAnnotation: "true"},
			RunE:        runCacheDecode,
		},
	)
	return cmd
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	entries, failures, err := appInstance.Cache().ListByPrefix(cmd.Context(), cache.KeyPrefix)
	if err != nil {
		return fmt.Errorf("list cache keys: %w", err)
	}
	for _, f := range failures {
		appInstance.Logger().Warn("undecodable cache entry", zap.String("key", f.Key), zap.Error(f.Err))
	}
	if entries == nil {
		entries = []cache.Entry{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	normalized, err := preview.NormalizeURL(args[0])
	if err != nil {
		return err
	}
	key := cache.EncodeKey(normalized)
	if err := appInstance.Cache().Delete(cmd.Context(), key); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "cache cleared: %s (%s)\n", normalized, key)
	return err
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	info, err := appInstance.Cache().Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), info)
	return err
}

func runCacheDecode(cmd *cobra.Command, args []string) error {
	u, err := cache.DecodeKey(args[0])
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
	return err
}
