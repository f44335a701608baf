package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/basket/revclaw/internal/review"
)

// loadPullRequest reads a PullRequest JSON document from path, or from stdin
// when path is "-". CI pipelines produce this document from their PR context.
func loadPullRequest(path string) (review.PullRequest, error) {
	var pr review.PullRequest

	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return pr, fmt.Errorf("open pull request file: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pr); err != nil {
		return pr, fmt.Errorf("parse pull request: %w", err)
	}
	if pr.Number <= 0 {
		return pr, fmt.Errorf("pull request number missing or invalid: %d", pr.Number)
	}
	if len(pr.ChangedFiles) == 0 {
		return pr, fmt.Errorf("pull request #%d has no changed files", pr.Number)
	}
	return pr, nil
}
