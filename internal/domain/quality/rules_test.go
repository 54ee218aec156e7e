package quality

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()

	assert.Equal(t, 0.95, rules.Thresholds[CheckCompleteness])
	assert.Equal(t, 0.99, rules.Thresholds[CheckAccuracy])
	assert.Equal(t, 0.98, rules.Thresholds[CheckConsistency])
	assert.Equal(t, 0.90, rules.Thresholds[CheckTimeliness])
	assert.Equal(t, 0.05, rules.WarnMargin)
	assert.Equal(t, 24*time.Hour, rules.FreshnessWindow)
}

func TestLoadRules(t *testing.T) {
	t.Run("partial file overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := "thresholds:\n  accuracy: 0.97\nwarn_margin: 0.02\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		rules, err := LoadRules(path)
		require.NoError(t, err)

		assert.Equal(t, 0.97, rules.Thresholds[CheckAccuracy])
		assert.Equal(t, 0.02, rules.WarnMargin)
		assert.Equal(t, 24*time.Hour, rules.FreshnessWindow)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("out-of-range threshold errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  accuracy: 1.5\n"), 0o644))

		_, err := LoadRules(path)
		assert.Error(t, err)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("thresholds: ["), 0o644))

		_, err := LoadRules(path)
		assert.Error(t, err)
	})
}

func TestRules_ThresholdDefaultsStrict(t *testing.T) {
	rules := Rules{}
	assert.Equal(t, 1.0, rules.threshold(CheckAccuracy))
	assert.Equal(t, 1.0, rules.weight(CheckAccuracy))
}
