package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles for the reward pipeline.
// Supports gradual rollout by subject so new reward mechanics can be
// tried on a fraction of learners before going wide.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	subjectOverrides map[string]map[string]bool // subjectID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Subjects are assigned based on hash of their ID
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// === Reward mechanics ===
	FeatureStreakBonus    = "rewards.streak_bonus"     // Daily streak bonus XP
	FeatureDailyGoalBonus = "rewards.daily_goal_bonus" // Daily goal bonus XP

	// === Achievements ===
	FeatureAchievements = "achievements.unlocks" // Achievement evaluation

	// === Notifications ===
	FeatureRealtimeNotify = "notify.realtime" // Redis pub/sub fanout

	// === Background jobs ===
	FeatureLedgerReconcile = "jobs.ledger_reconcile" // Nightly replay sweep
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		subjectOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureStreakBonus] = &Feature{
		Name:           FeatureStreakBonus,
		Description:    "Grant bonus XP when the daily streak advances",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDailyGoalBonus] = &Feature{
		Name:           FeatureDailyGoalBonus,
		Description:    "Grant bonus XP when the daily completion goal is met",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAchievements] = &Feature{
		Name:           FeatureAchievements,
		Description:    "Evaluate and unlock achievements",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRealtimeNotify] = &Feature{
		Name:           FeatureRealtimeNotify,
		Description:    "Publish reward events to Redis channels",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureLedgerReconcile] = &Feature{
		Name:           FeatureLedgerReconcile,
		Description:    "Nightly ledger replay and drift repair",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_REWARDS_STREAK_BONUS=true
// Example: FEATURE_ACHIEVEMENTS_UNLOCKS=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "rewards.streak_bonus" -> "FEATURE_REWARDS_STREAK_BONUS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given subject.
// An empty subjectID evaluates the flag globally: enabled only at
// full rollout.
func (ff *FeatureFlags) IsEnabled(featureName, subjectID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check subject overrides first
	if subjectID != "" {
		if overrides, ok := ff.subjectOverrides[subjectID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && subjectID != "" {
		return isInRollout(subjectID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent >= 100
}

// isInRollout determines if a subject is in the rollout percentage.
// Uses consistent hashing so subjects stay in their bucket.
func isInRollout(subjectID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(subjectID))
	bucket := int(h.Sum32() % 100)
	return bucket < percent
}

// SetSubjectOverride sets a feature override for a specific subject.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetSubjectOverride(subjectID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.subjectOverrides[subjectID]; !ok {
		ff.subjectOverrides[subjectID] = make(map[string]bool)
	}
	ff.subjectOverrides[subjectID][featureName] = enabled
}

// ClearSubjectOverrides removes all overrides for a subject.
func (ff *FeatureFlags) ClearSubjectOverrides(subjectID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.subjectOverrides, subjectID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
