// Package achievement contains the achievement catalog and the pure
// evaluation logic that decides which achievements a subject has earned.
// Predicates only read derived gamification state and never touch I/O.
package achievement

import (
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
)

// ID identifies an achievement in the catalog.
type ID string

// IsValid checks if the achievement ID is valid.
func (id ID) IsValid() bool {
	return id != ""
}

// String returns the string representation of ID.
func (id ID) String() string {
	return string(id)
}

// Built-in achievement IDs.
const (
	FirstTask    ID = "first_task"
	FirstEvent   ID = "first_event"
	FirstStudy   ID = "first_study"
	TenTasks     ID = "ten_tasks"
	LevelFive    ID = "level_five"
	LevelTen     ID = "level_ten"
	WeekStreak   ID = "week_streak"
	ThousandClub ID = "thousand_club"
)

// Predicate decides whether an achievement condition holds for the
// given derived state. Predicates must be pure and total.
type Predicate func(gs progression.GamificationState) bool

// Definition describes one catalog entry.
type Definition struct {
	ID          ID
	Title       string
	Description string
	Condition   Predicate
}

// Catalog is the ordered list of known achievements. Evaluation and
// notification follow this order, so it is part of observable behavior.
func Catalog() []Definition {
	return []Definition{
		{
			ID:          FirstTask,
			Title:       "Getting Started",
			Description: "Complete your first task",
			Condition: func(gs progression.GamificationState) bool {
				return gs.CompletedOf(progression.ItemTypeTask) >= 1
			},
		},
		{
			ID:          FirstEvent,
			Title:       "Showing Up",
			Description: "Attend your first event",
			Condition: func(gs progression.GamificationState) bool {
				return gs.CompletedOf(progression.ItemTypeEvent) >= 1
			},
		},
		{
			ID:          FirstStudy,
			Title:       "Deep Focus",
			Description: "Finish your first study session",
			Condition: func(gs progression.GamificationState) bool {
				return gs.CompletedOf(progression.ItemTypeStudy) >= 1
			},
		},
		{
			ID:          TenTasks,
			Title:       "On a Roll",
			Description: "Complete ten tasks",
			Condition: func(gs progression.GamificationState) bool {
				return gs.CompletedOf(progression.ItemTypeTask) >= 10
			},
		},
		{
			ID:          LevelFive,
			Title:       "Climbing",
			Description: "Reach level 5",
			Condition: func(gs progression.GamificationState) bool {
				return gs.Level >= 5
			},
		},
		{
			ID:          LevelTen,
			Title:       "Double Digits",
			Description: "Reach level 10",
			Condition: func(gs progression.GamificationState) bool {
				return gs.Level >= 10
			},
		},
		{
			ID:          WeekStreak,
			Title:       "Habit Formed",
			Description: "Keep a 7-day streak",
			Condition: func(gs progression.GamificationState) bool {
				return gs.StreakCount >= 7
			},
		},
		{
			ID:          ThousandClub,
			Title:       "Thousand Club",
			Description: "Accumulate 1000 XP",
			Condition: func(gs progression.GamificationState) bool {
				return gs.TotalXP >= 1000
			},
		},
	}
}

// Lookup returns the catalog definition for the given ID.
func Lookup(id ID) (Definition, bool) {
	for _, def := range Catalog() {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}
