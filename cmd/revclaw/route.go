package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/revclaw/internal/router"
	"github.com/basket/revclaw/internal/shared"
)

// runRouteCommand prints the routing decision for a pull request without
// running any agents. The decision is still recorded in memory, exactly as a
// real run would record it.
func runRouteCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	prPath := fs.String("pr", "-", "pull request JSON file, - for stdin")
	asJSON := fs.Bool("json", false, "print the decision as JSON")
	dryRun := fs.Bool("dry-run", false, "do not record the decision in memory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pr, err := loadPullRequest(*prPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	rt, err := openRuntime(ctx, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	ctx = shared.WithRunID(ctx, ciRunID())

	var store router.MemoryStore = rt.store
	if *dryRun {
		store = nil
	}
	rtr := router.New(store, rt.cfg.Router, rt.cfg.Fingerprint(), rt.logger, rt.events)
	decision, err := rtr.Route(ctx, pr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routing failed: %v\n", err)
		return 1
	}

	if *asJSON {
		out, err := json.MarshalIndent(decision, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode decision: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	fmt.Printf("PR #%d: %s\n", pr.Number, pr.Title)
	fmt.Printf("  agents:      %s\n", joinCategories(decision.SelectedAgents))
	if len(decision.MemoryAdded) > 0 {
		fmt.Printf("  from memory: %s\n", joinCategories(decision.MemoryAdded))
	}
	if len(decision.RequestedLabels) > 0 {
		fmt.Printf("  labels:      %s\n", strings.Join(decision.RequestedLabels, ", "))
	}
	fmt.Printf("  config:      %s\n", decision.ConfigFingerprint)
	return 0
}

func joinCategories[T ~string](cats []T) string {
	if len(cats) == 0 {
		return "(none)"
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
