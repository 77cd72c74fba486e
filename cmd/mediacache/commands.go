package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/mediacache/ingest"
)

func newResolveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve URI...",
		Short: "Print the cached file URI for each URI, or the URI itself on a miss",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, uri := range args {
				fmt.Fprintln(out, a.client.GetCachedURIIfExists(uri, a.cfg.FallbackExt))
			}
			return nil
		},
	}
}

func newFetchCommand(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "fetch URI...",
		Short: "Download each URI into the cache and print its local URI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed []error
			for _, uri := range args {
				start := time.Now()
				res, err := a.client.Ensure(cmd.Context(), uri, a.cfg.FallbackExt)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", uri, err))
					fmt.Fprintln(out, uri)
					continue
				}
				if res.URI == "" {
					fmt.Fprintln(out, uri)
					continue
				}
				fmt.Fprintln(out, res.URI)
				if res.State == ingest.StateDownloaded {
					a.logger.Info("downloaded",
						"uri", uri,
						"size", humanize.Bytes(uint64(fileSize(res.Path))),
						"elapsed", time.Since(start).Round(time.Millisecond),
						"shared", res.Shared,
					)
				}
			}
			if strict && len(failed) > 0 {
				return errors.Join(failed...)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any download fails")
	return cmd
}

func newWarmCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "warm URI...",
		Short: "Prefetch URIs in the background and wait for the queue to drain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, uri := range args {
				a.client.WarmCache(uri, a.cfg.FallbackExt)
			}
			// The queue drains in PersistentPostRunE via Close.
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.client.Entries()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			var total int64
			for _, e := range entries {
				total += e.Size
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Time(e.ModTime))
			}
			fmt.Fprintf(tw, "%d files\t%s\t\n", len(entries), humanize.Bytes(uint64(total)))
			return tw.Flush()
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
