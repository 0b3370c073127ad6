// internal/caseid/caseid.go
// Package caseid derives human-readable case identifiers from the report category.
// Identifiers are a one-letter category prefix followed by a six digit sequence.
// The sequence is the number of existing cases in the category plus one, which
// two concurrent callers can both observe; cases.Store closes that gap.
package caseid

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roadcase/roadcase-go/internal/storage"
)

// FallbackPrefix is used for categories outside the known table.
const FallbackPrefix = "Z"

var prefixes = map[string]string{
	"道路養護":    "A",
	"人行環境":    "B",
	"交通工程":    "C",
	"停車規劃與管理": "D",
	"節點及門牌數":  "E",
}

// Prefix returns the identifier prefix for category.
func Prefix(category string) string {
	if p, ok := prefixes[category]; ok {
		return p
	}
	return FallbackPrefix
}

// Format builds an identifier from a prefix and sequence number.
func Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%06d", prefix, seq)
}

// Sequence extracts the numeric part of an identifier.
func Sequence(id string) (int, bool) {
	if len(id) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Counter counts cases in a category.
type Counter interface {
	CountByCategory(ctx context.Context, category string) (int, error)
}

// Generator produces advisory identifiers.
type Generator struct {
	counter Counter
}

func NewGenerator(c Counter) *Generator {
	return &Generator{counter: c}
}

// Generate returns prefix + zero-padded(count+1).
func (g *Generator) Generate(ctx context.Context, category string) (string, error) {
	n, err := g.counter.CountByCategory(ctx, category)
	if err != nil {
		return "", fmt.Errorf("count %s cases: %w", category, err)
	}
	return Format(Prefix(category), n+1), nil
}

// StoreCounter counts cases directly from the tree.
type StoreCounter struct {
	KV storage.Store
}

func (c StoreCounter) CountByCategory(ctx context.Context, category string) (int, error) {
	nodes, err := c.KV.ListWhere(ctx, "cases", "category", category)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}
