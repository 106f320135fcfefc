package achievement

import (
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
)

// Evaluator checks catalog predicates against derived state.
type Evaluator struct {
	catalog []Definition
}

// NewEvaluator creates an evaluator over the built-in catalog.
func NewEvaluator() *Evaluator {
	return &Evaluator{catalog: Catalog()}
}

// Evaluate returns the definitions whose conditions hold for gs and
// that are not already unlocked, in catalog order. Already-unlocked
// achievements are skipped regardless of their predicate, so unlocks
// stay permanent even when the underlying XP is later revoked.
func (e *Evaluator) Evaluate(gs progression.GamificationState, unlockedIDs []string) []Definition {
	unlocked := make(map[ID]struct{}, len(unlockedIDs))
	for _, id := range unlockedIDs {
		unlocked[ID(id)] = struct{}{}
	}

	var newly []Definition
	for _, def := range e.catalog {
		if _, ok := unlocked[def.ID]; ok {
			continue
		}
		if def.Condition(gs) {
			newly = append(newly, def)
		}
	}
	return newly
}
