package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/revclaw/internal/tui"
)

func printMemoryUsage(w *os.File) {
	fmt.Fprintf(w, `usage: %s memory <action>

Actions:
  search <query>        Find past findings similar to the query
                        Flags: -k <n> (default 10), -min <score> (default 0)
  export                Write every record as JSON lines to stdout
  status                Show log and index record counts
  browse                Open the interactive memory browser (requires a TTY)
  backfill              Re-embed records saved without vectors
                        Flags: -limit <n> (default 50)
  rebuild               Rebuild the index from the append log
  reset                 Delete the log and the index (asks for confirmation)
`, os.Args[0])
}

func runMemoryCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printMemoryUsage(os.Stderr)
		return 2
	}
	action := strings.ToLower(strings.TrimSpace(args[0]))
	if action == "help" {
		printMemoryUsage(os.Stdout)
		return 0
	}

	rt, err := openRuntime(ctx, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	switch action {
	case "search":
		return memorySearch(ctx, rt, args[1:])
	case "export":
		return memoryExport(rt)
	case "status":
		return memoryStatus(ctx, rt)
	case "browse":
		return memoryBrowse(ctx, rt)
	case "backfill":
		return memoryBackfill(ctx, rt, args[1:])
	case "rebuild":
		return memoryRebuild(ctx, rt)
	case "reset":
		return memoryReset(ctx, rt, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown memory action %q\n\n", action)
		printMemoryUsage(os.Stderr)
		return 2
	}
}

func memorySearch(ctx context.Context, rt *runtime, args []string) int {
	fs := flag.NewFlagSet("memory search", flag.ContinueOnError)
	k := fs.Int("k", 10, "maximum number of results")
	minScore := fs.Float64("min", 0, "minimum similarity score")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: revclaw memory search <query>")
		return 2
	}

	hits, err := rt.store.Search(ctx, query, *k, *minScore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		return 1
	}
	if len(hits) == 0 {
		fmt.Println("no matches")
		return 0
	}
	for _, hit := range hits {
		r := hit.Record
		loc := ""
		if r.Payload.FilePath != "" {
			loc = fmt.Sprintf(" (%s:%d)", r.Payload.FilePath, r.Payload.Line)
		}
		fmt.Printf("%.3f  %s  [%s/%s]%s\n       %s\n",
			hit.Score, r.Timestamp.Format("2006-01-02"), r.AgentName, r.Category, loc, r.Payload.Text)
	}
	return 0
}

func memoryExport(rt *runtime) int {
	records, err := rt.store.All()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read log: %v\n", err)
		return 1
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, rec := range records {
		line, err := rec.MarshalLine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode record %s: %v\n", rec.ID, err)
			return 1
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	return 0
}

func memoryStatus(ctx context.Context, rt *runtime) int {
	logCount, err := rt.log.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read log: %v\n", err)
		return 1
	}
	indexCount, err := rt.index.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read index: %v\n", err)
		return 1
	}
	missing, err := rt.index.Missing(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read index: %v\n", err)
		return 1
	}

	fmt.Printf("log:      %s (%d records)\n", rt.cfg.LogPath(), logCount)
	fmt.Printf("index:    %s (%d records, %d without vectors)\n", rt.cfg.IndexPath(), indexCount, len(missing))
	fmt.Printf("embedder: %s\n", rt.cfg.Embedding.Provider)
	fmt.Printf("config:   %s\n", rt.cfg.Fingerprint())
	if indexCount != logCount {
		fmt.Println("index is stale; run: revclaw memory rebuild")
	}
	return 0
}

func memoryBrowse(ctx context.Context, rt *runtime) int {
	records, err := rt.store.All()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read log: %v\n", err)
		return 1
	}
	if !stdoutIsTerminal() {
		// No TTY: degrade to a plain listing so pipes still work.
		for _, r := range records {
			fmt.Printf("%s  [%s/%s]  %s\n",
				r.Timestamp.Format("2006-01-02"), r.AgentName, r.Category, r.Payload.Text)
		}
		return 0
	}
	if err := tui.Run(ctx, records); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "browser: %v\n", err)
		return 1
	}
	return 0
}

func memoryBackfill(ctx context.Context, rt *runtime, args []string) int {
	fs := flag.NewFlagSet("memory backfill", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum records to re-embed")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	n, err := rt.store.Backfill(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		return 1
	}
	fmt.Printf("re-embedded %d records\n", n)
	return 0
}

func memoryRebuild(ctx context.Context, rt *runtime) int {
	if err := rt.store.Rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild: %v\n", err)
		return 1
	}
	count, err := rt.index.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read index: %v\n", err)
		return 1
	}
	fmt.Printf("index rebuilt, %d records\n", count)
	return 0
}

func memoryReset(ctx context.Context, rt *runtime, args []string) int {
	fs := flag.NewFlagSet("memory reset", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !*force {
		fmt.Printf("This deletes %s and the derived index. Type yes to continue: ", rt.cfg.LogPath())
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("aborted")
			return 1
		}
	}

	if err := rt.store.Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		return 1
	}
	fmt.Println("memory cleared")
	return 0
}
