// Package normalize repairs legacy field values in the local mirror. Repaired
// records are re-enqueued so the fix reaches the remote service too.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

// Gateway is the slice of store.Manager a normalization pass needs.
type Gateway interface {
	Scan(ctx context.Context, collection store.Collection, filter store.ScanFilter) ([]store.Record, error)
	Modify(ctx context.Context, collection store.Collection, id string, fn func(current store.Record) (store.Record, error)) (store.Record, error)
	Now() time.Time
}

// Rule rewrites records of one collection. Rewrite receives a copy of the
// fields and returns the repaired fields.
type Rule struct {
	Name       string
	Collection store.Collection
	Matches    func(fields store.Fields) bool
	Rewrite    func(fields store.Fields) store.Fields
}

var errUnchanged = errors.New("normalize: record unchanged")

// Normalize applies rule to every live record of its collection, for every
// user, and returns how many records changed. Running it twice changes
// nothing the second time.
func Normalize(ctx context.Context, gateway Gateway, rule Rule) (int, error) {
	if rule.Rewrite == nil {
		return 0, fmt.Errorf("normalize: rule %q has no rewrite", rule.Name)
	}
	candidates, err := gateway.Scan(ctx, rule.Collection, store.ScanFilter{})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, candidate := range candidates {
		if rule.Matches != nil && !rule.Matches(candidate.Fields) {
			continue
		}
		_, err := gateway.Modify(ctx, rule.Collection, candidate.ID, func(current store.Record) (store.Record, error) {
			if current.IsTombstone() {
				return store.Record{}, errUnchanged
			}
			if rule.Matches != nil && !rule.Matches(current.Fields) {
				return store.Record{}, errUnchanged
			}
			rewritten := rule.Rewrite(current.Fields.Clone())
			if rewritten.Equal(current.Fields) {
				return store.Record{}, errUnchanged
			}
			next := current.Clone()
			next.Fields = rewritten
			next.UpdatedAt = gateway.Now().UTC()
			if !next.UpdatedAt.After(current.UpdatedAt) {
				next.UpdatedAt = current.UpdatedAt.Add(time.Millisecond)
			}
			return next, nil
		})
		switch {
		case err == nil:
			changed++
		case errors.Is(err, errUnchanged), errors.Is(err, store.ErrNotFound):
		default:
			return changed, fmt.Errorf("normalize %s: %w", rule.Name, err)
		}
	}
	return changed, nil
}

// Report summarizes a Pass run.
type Report struct {
	Changed  map[string]int
	Failures map[string]error
}

// Total returns the number of records changed across all rules.
func (r Report) Total() int {
	total := 0
	for _, count := range r.Changed {
		total += count
	}
	return total
}

// Pass runs a list of rules. Failures are logged and recorded, never returned.
type Pass struct {
	Gateway Gateway
	Rules   []Rule
	Logger  *zap.Logger
}

func (p Pass) Run(ctx context.Context) Report {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	report := Report{Changed: map[string]int{}, Failures: map[string]error{}}
	for _, rule := range p.Rules {
		changed, err := runSafely(ctx, p.Gateway, rule)
		if err != nil {
			report.Failures[rule.Name] = err
			logger.Error("normalization rule failed",
				zap.String("operation", "normalize.run"),
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
		if changed > 0 {
			report.Changed[rule.Name] = changed
			logger.Info("normalized records",
				zap.String("rule", rule.Name),
				zap.String("collection", rule.Collection.String()),
				zap.Int("changed", changed))
		}
	}
	return report
}

func runSafely(ctx context.Context, gateway Gateway, rule Rule) (changed int, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("normalize: rule %q panicked: %v", rule.Name, recovered)
		}
	}()
	return Normalize(ctx, gateway, rule)
}
