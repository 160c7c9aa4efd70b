package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wevtflow/wevtflow/pkg/cache"
	"github.com/wevtflow/wevtflow/pkg/config"
	"github.com/wevtflow/wevtflow/pkg/tui"
	"github.com/wevtflow/wevtflow/pkg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and keep a cache file current",
	Long: `Watch a directory for new or updated PE files, ingest their WEVT
templates as they appear, and re-dump the cache file after each change.

The initial cache is built from the directory's current contents before
watching starts.

Examples:
  wevtflow watch drivers/ -o drivers.wevtcache
  wevtflow watch drop/ -o drop.wevtcache --extensions dll`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .wevtcache file path (required)")
	watchCmd.Flags().StringVar(&extensionsFlag, "extensions", "", "Comma-separated extension allow-list (default exe,dll,sys)")
	watchCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	if extensionsFlag == "" {
		extensionsFlag = cfg.Ingest.Extensions
	}

	dir := args[0]

	// Initial build from the directory's current contents.
	c := cache.New()
	if _, err := c.AddDir(dir, true, extensionsFlag); err != nil {
		return err
	}
	if err := c.Dump(outputFile, true); err != nil {
		return err
	}
	fmt.Printf("%s %d template(s), %d event(s) -> %s\n",
		tui.Success("✓"), c.TemplateCount(), c.EventCount(), outputFile)

	w, err := watch.NewWatcher(extensionsFlag, time.Duration(cfg.Watch.DebounceMS)*time.Millisecond)
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnChange = func(path string) error {
		n, err := c.AddDLL(path)
		if err != nil {
			return err
		}
		if err := c.Dump(outputFile, true); err != nil {
			return err
		}
		fmt.Printf("%s %s: %d template(s) ingested, cache updated\n", tui.Success("✓"), path, n)
		return nil
	}
	w.OnError = func(path string, err error) {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", tui.Accent("!"), path, err)
	}

	if err := w.Watch(dir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping watcher...")
		cancel()
	}()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", dir)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
