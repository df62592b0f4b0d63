package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 2*time.Minute, cfg.GradebookCacheTTL)
	require.Equal(t, "renormalize", cfg.WeightPolicy)
	require.Equal(t, 0.1, cfg.WeightTolerance)
	require.Equal(t, ScorePolicyLatest, cfg.AttemptScorePolicy)
	require.Equal(t, 5, cfg.AttemptSaveRetries)
	require.Equal(t, "gema.assessment", cfg.RabbitMQExchange)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_APP_PORT", ":9090")
	t.Setenv("GEMA_ATTEMPT_SCORE_POLICY", "Highest")
	t.Setenv("GEMA_GRADEBOOK_WEIGHT_POLICY", "strict")
	t.Setenv("GEMA_GRADEBOOK_CACHE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, ScorePolicyHighest, cfg.AttemptScorePolicy)
	require.Equal(t, "strict", cfg.WeightPolicy)
	require.Equal(t, 30*time.Second, cfg.GradebookCacheTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_ATTEMPT_SCORE_POLICY", "average")
	_, err = Load()
	require.Error(t, err)
}
