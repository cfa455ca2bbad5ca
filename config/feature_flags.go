package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FeatureFlags manages feature toggles with gradual per-center rollout.
// Flags gate risky behavior (cache layers, background sweeps) so a bad
// deploy can be neutered from the environment without a rollback.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	centerOverrides map[uuid.UUID]map[string]bool // centerID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Centers are assigned based on hash of their ID
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	CenterID uuid.UUID
}

// Predefined feature flag names.
const (
	// FeatureCalendarCache gates the Redis-backed calendar view cache.
	// Off means every calendar read recomputes the projection.
	FeatureCalendarCache = "calendar.cache"

	// FeatureExtraConflictCheck gates overlap detection when creating
	// extra sessions.
	FeatureExtraConflictCheck = "sessions.extra_conflict_check"

	// FeatureBackfill gates the periodic settlement sweep.
	FeatureBackfill = "backfill.enabled"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		centerOverrides: make(map[uuid.UUID]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureCalendarCache] = &Feature{
		Name:           FeatureCalendarCache,
		Description:    "Cache computed calendar views in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExtraConflictCheck] = &Feature{
		Name:           FeatureExtraConflictCheck,
		Description:    "Reject extra sessions overlapping teacher or group time",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureBackfill] = &Feature{
		Name:           FeatureBackfill,
		Description:    "Settle past untouched slots as missed",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_CALENDAR_CACHE=false
// Example: FEATURE_BACKFILL_ENABLED=25 (25% of centers)
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
// "calendar.cache" -> "FEATURE_CALENDAR_CACHE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil context evaluates the flag globally.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check center overrides first
	if ctx != nil && ctx.CenterID != uuid.Nil {
		if overrides, ok := ff.centerOverrides[ctx.CenterID]; ok {
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

	if feature.RolloutPercent < 100 && ctx != nil && ctx.CenterID != uuid.Nil {
		return isInRollout(ctx.CenterID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a center is in the rollout percentage.
// Uses consistent hashing so centers stay in their bucket across restarts.
func isInRollout(centerID uuid.UUID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(centerID.String()))
	bucket := int(h.Sum32() % 100)

	return bucket < percent
}

// SetCenterOverride pins a feature on or off for one center.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetCenterOverride(centerID uuid.UUID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.centerOverrides[centerID]; !ok {
		ff.centerOverrides[centerID] = make(map[string]bool)
	}
	ff.centerOverrides[centerID][featureName] = enabled
}

// ClearCenterOverrides removes all overrides for a center.
func (ff *FeatureFlags) ClearCenterOverrides(centerID uuid.UUID) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.centerOverrides, centerID)
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

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
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
