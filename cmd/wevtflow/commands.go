package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wevtflow/wevtflow/pkg/cache"
	"github.com/wevtflow/wevtflow/pkg/config"
	"github.com/wevtflow/wevtflow/pkg/peres"
	"github.com/wevtflow/wevtflow/pkg/telemetry"
	"github.com/wevtflow/wevtflow/pkg/tui"
	"github.com/wevtflow/wevtflow/pkg/wevt"
)

// Extract/scan flags
var (
	outputFile      string
	recursive       bool
	extensionsFlag  string
	overwriteOutput bool

	// Resolve flags
	providerGUID string
	eventID      uint16
	eventVersion uint8

	// Scan flags
	parallelWorkers int
)

var extractCmd = &cobra.Command{
	Use:   "extract <input>...",
	Short: "Extract WEVT templates into a cache file",
	Long: `Extract WEVT_TEMPLATE manifests from PE binaries and write the
aggregated template cache to a .wevtcache file.

Inputs may be individual PE files, directories, or existing .wevtcache
files; directories are walked breadth-first with a deterministic order.

Examples:
  wevtflow extract C:/Windows/System32 -o system32.wevtcache
  wevtflow extract provider.dll -o provider.wevtcache
  wevtflow extract old.wevtcache extra.dll -o merged.wevtcache --overwrite`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <cache-or-manifest>",
	Short: "Summarize a cache file or raw manifest blob",
	Long: `Print the providers, event definitions, and templates stored in a
.wevtcache file or a raw extracted WEVT_TEMPLATE blob.

Examples:
  wevtflow inspect system32.wevtcache
  wevtflow inspect provider.crim`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve an event definition to its template GUID",
	Long: `Look up the template GUID for a (provider GUID, event id, version)
triple in a cache file.

Examples:
  wevtflow resolve -c sys.wevtcache --provider 54849625-5478-4994-a5ba-3e3b0328c30d --event-id 4624 --event-version 2`,
	RunE: runResolve,
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Probe PE files for WEVT_TEMPLATE resources",
	Long: `Scan a directory tree and report which PE files carry
WEVT_TEMPLATE resources. Read-only; nothing is ingested or written.

Examples:
  wevtflow scan C:/Windows/System32
  wevtflow scan drivers/ --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	extractCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .wevtcache file path (required)")
	extractCmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Recurse into subdirectories")
	extractCmd.Flags().StringVar(&extensionsFlag, "extensions", "", "Comma-separated extension allow-list (default exe,dll,sys)")
	extractCmd.Flags().BoolVar(&overwriteOutput, "overwrite", false, "Replace the output file if it exists")
	extractCmd.MarkFlagRequired("output")

	resolveCmd.Flags().StringVarP(&cacheFile, "cache", "c", "", "Cache file path (required)")
	resolveCmd.Flags().StringVar(&providerGUID, "provider", "", "Provider GUID (required)")
	resolveCmd.Flags().Uint16Var(&eventID, "event-id", 0, "Event identifier (required)")
	resolveCmd.Flags().Uint8Var(&eventVersion, "event-version", 0, "Event definition version")
	resolveCmd.MarkFlagRequired("cache")
	resolveCmd.MarkFlagRequired("provider")
	resolveCmd.MarkFlagRequired("event-id")

	scanCmd.Flags().IntVar(&parallelWorkers, "workers", 0, "Parallel probe workers (0 = number of CPUs)")
	scanCmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Recurse into subdirectories")
	scanCmd.Flags().StringVar(&extensionsFlag, "extensions", "", "Comma-separated extension allow-list (default exe,dll,sys)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(scanCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, span := telemetry.StartSpanFromContext(cmd.Context(), "extract")
	defer span.End()

	if extensionsFlag == "" {
		extensionsFlag = config.Global().Get().Ingest.Extensions
	}

	c := cache.New()
	filesScanned := 0
	start := time.Now()

	for _, input := range args {
		if strings.EqualFold(filepath.Ext(input), cache.CacheFileExt) {
			loaded, err := cache.Load(input)
			if err != nil {
				return err
			}
			for _, blob := range loaded.Resources() {
				if _, err := c.Ingest(blob); err != nil {
					return err
				}
			}
			if verbose {
				fmt.Printf("Merged %s (%d templates)\n", input, loaded.TemplateCount())
			}
			continue
		}

		files, err := cache.CollectInputPaths(input, recursive, extensionsFlag)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			if verbose {
				fmt.Printf("No candidate files under %s\n", input)
			}
			continue
		}

		bar := tui.ShowProgress(int64(len(files)), "Extracting")
		for _, f := range files {
			if _, err := c.AddDLL(f); err != nil {
				return err
			}
			filesScanned++
			bar.Add(1)
		}
		bar.Finish()
	}

	if err := c.Dump(outputFile, overwriteOutput); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	telemetry.SetSpanAttributes(ctx,
		attribute.Int("extract.files", filesScanned),
		attribute.Int("extract.templates", c.TemplateCount()),
		attribute.Int("extract.events", c.EventCount()),
	)

	tui.PrintIngestReport(&tui.IngestReport{
		FilesScanned: filesScanned,
		Templates:    c.TemplateCount(),
		Events:       c.EventCount(),
		Overwrites:   c.Overwrites(),
		Duration:     time.Since(start),
	})
	fmt.Printf("Cache written to %s\n", tui.Code(outputFile))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	if strings.EqualFold(filepath.Ext(path), cache.CacheFileExt) {
		return inspectCache(path)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return inspectManifest(blob)
}

func inspectCache(path string) error {
	r, err := cache.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	stat, _ := os.Stat(path)
	fmt.Printf("%s %s\n", tui.Muted("File:"), path)
	if stat != nil {
		fmt.Printf("%s %s\n", tui.Muted("Size:"), tui.FormatBytes(stat.Size()))
	}
	fmt.Printf("%s %d\n", tui.Muted("Entries:"), r.EntryCount())
	fmt.Println()

	for i := 0; ; i++ {
		_, payload, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s manifest, %s\n", tui.Accent(fmt.Sprintf("Entry %d:", i)), tui.FormatBytes(int64(len(payload))))
		if err := inspectManifest(payload); err != nil {
			return err
		}
	}
	return nil
}

func inspectManifest(blob []byte) error {
	m, err := wevt.ParseManifest(blob)
	if err != nil {
		return err
	}

	h := m.Header()
	fmt.Printf("  %s v%d.%d, %d provider(s), %s declared\n",
		tui.Muted("CRIM"), h.MajorVersion, h.MinorVersion, h.ProviderCount, tui.FormatBytes(int64(h.Size)))

	for _, p := range m.Providers() {
		fmt.Printf("  %s %s\n", tui.Muted("Provider"), tui.Title(p.GUID()))
		if id, ok := p.MessageID(); ok {
			fmt.Printf("    message id: 0x%08x\n", id)
		}
		for _, tpl := range p.Templates() {
			fmt.Printf("    template %s (%d substitution slots)\n", tpl.GUID, len(tpl.Items()))
		}
		for _, ev := range p.Events() {
			if ev.HasTemplate() {
				tpl, _ := p.TemplateByOffset(ev.TemplateOffset)
				guid := ""
				if tpl != nil {
					guid = tpl.GUID
				}
				fmt.Printf("    event id=%d version=%d template=%s\n", ev.ID, ev.Version, guid)
			} else {
				fmt.Printf("    event id=%d version=%d (no template)\n", ev.ID, ev.Version)
			}
		}
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	c, err := cache.Load(cacheFile)
	if err != nil {
		return err
	}

	guid, err := c.Resolve(providerGUID, eventID, eventVersion)
	if err != nil {
		return err
	}
	fmt.Println(guid)
	return nil
}

// scanResult is one probed file.
type scanResult struct {
	Path      string
	Resources int
	Templates int
	Err       error
}

func runScan(cmd *cobra.Command, args []string) error {
	if extensionsFlag == "" {
		extensionsFlag = config.Global().Get().Ingest.Extensions
	}
	workers := parallelWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files, err := cache.CollectInputPaths(args[0], recursive, extensionsFlag)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No candidate files found.")
		return nil
	}

	fmt.Printf("Probing %d files with %d workers...\n\n", len(files), workers)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, stopping workers...")
		cancel()
	}()

	results := make(chan scanResult, len(files))

	var completed atomic.Int64
	total := int64(len(files))

	// Probing is read-only, so this is the one place fan-out is safe.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range files {
		path := path
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			results <- probeFile(path)
			done := completed.Add(1)
			pct := float64(done) / float64(total) * 100
			fmt.Printf("\r[%3.0f%%] %d/%d files probed", pct, done, total)
			return nil
		})
	}

	err = g.Wait()
	close(results)
	tui.ClearLine()

	withTemplates := 0
	probeErrors := 0
	for r := range results {
		switch {
		case r.Err != nil:
			probeErrors++
			if verbose {
				fmt.Printf("%s %s: %v\n", tui.Accent("!"), r.Path, r.Err)
			}
		case r.Resources > 0:
			withTemplates++
			fmt.Printf("%s %s (%d resource(s), %d template(s))\n",
				tui.Success("✓"), r.Path, r.Resources, r.Templates)
		}
	}

	fmt.Println()
	fmt.Printf("%s %d of %d files carry WEVT_TEMPLATE resources", tui.Title("Done:"), withTemplates, len(files))
	if probeErrors > 0 {
		fmt.Printf(" (%d unreadable)", probeErrors)
	}
	fmt.Println()
	return err
}

func probeFile(path string) scanResult {
	image, err := os.ReadFile(path)
	if err != nil {
		return scanResult{Path: path, Err: err}
	}
	blobs, err := peres.ExtractWEVTTemplates(image)
	if err != nil {
		return scanResult{Path: path, Err: err}
	}

	templates := 0
	for _, blob := range blobs {
		m, err := wevt.ParseManifest(blob)
		if err != nil {
			return scanResult{Path: path, Resources: len(blobs), Err: err}
		}
		for _, p := range m.Providers() {
			templates += len(p.Templates())
		}
	}
	return scanResult{Path: path, Resources: len(blobs), Templates: templates}
}
