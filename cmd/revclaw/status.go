package main

import (
	"context"
	"fmt"
	"os"
)

// runStatusCommand prints the effective configuration and memory health.
func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: revclaw status")
		return 2
	}

	rt, err := openRuntime(ctx, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()
	cfg := rt.cfg

	fmt.Printf("revclaw %s\n", Version)
	fmt.Printf("home:     %s\n", cfg.HomeDir)
	fmt.Printf("repo:     %s\n", cfg.RepoDir)
	fmt.Printf("workers:  %d (timeout %ds)\n", cfg.WorkerCount, cfg.AgentTimeoutSeconds)

	provider, model, apiKey := cfg.ResolveLLMConfig()
	keyState := "missing"
	if apiKey != "" {
		keyState = "set"
	}
	fmt.Printf("llm:      %s/%s (key %s)\n", provider, model, keyState)

	guardTarget := cfg.Guard.Remote
	if cfg.Guard.Branch != "" {
		guardTarget += "/" + cfg.Guard.Branch
	}
	fmt.Printf("guard:    %s, %d push retries\n", guardTarget, cfg.Guard.PushRetries)

	return memoryStatus(ctx, rt)
}
