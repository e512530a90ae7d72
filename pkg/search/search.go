// Package search runs debounced username-prefix searches.
package search

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chattersync/pkg/domain"
)

// DefaultMinLength is the shortest query that opens a subscription.
const DefaultMinLength = 2

// Directory supplies live prefix results.
type Directory interface {
	SearchByUsernamePrefix(ctx context.Context, query string) <-chan []domain.UserProfile
}

type Config struct {
	Directory Directory
	// Debounce delays the subscription until the query has been stable for
	// this long. Zero subscribes immediately.
	Debounce  time.Duration
	MinLength int
}

type Coordinator struct {
	dir       Directory
	debounce  time.Duration
	minLength int
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Directory == nil {
		return nil, errors.New("search: directory required")
	}
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	debounce := cfg.Debounce
	if debounce < 0 {
		debounce = 0
	}
	return &Coordinator{dir: cfg.Directory, debounce: debounce, minLength: minLength}, nil
}

// Eligible reports whether query is long enough to search, counting runes
// after trimming surrounding whitespace.
func (c *Coordinator) Eligible(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) >= c.minLength
}

// Stream follows the results for query with selfID removed. An ineligible
// query yields one empty list and closes without touching the directory.
// Cancelling ctx during the debounce wait abandons the search.
func (c *Coordinator) Stream(ctx context.Context, query, selfID string) <-chan []domain.UserProfile {
	if !c.Eligible(query) {
		out := make(chan []domain.UserProfile, 1)
		out <- []domain.UserProfile{}
		close(out)
		return out
	}
	query = strings.TrimSpace(query)
	out := make(chan []domain.UserProfile)
	go func() {
		defer close(out)
		if c.debounce > 0 {
			timer := time.NewTimer(c.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		for results := range c.dir.SearchByUsernamePrefix(ctx, query) {
			select {
			case out <- withoutUser(results, selfID):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func withoutUser(results []domain.UserProfile, uid string) []domain.UserProfile {
	out := make([]domain.UserProfile, 0, len(results))
	for _, p := range results {
		if uid != "" && p.UID == uid {
			continue
		}
		out = append(out, p)
	}
	return out
}
