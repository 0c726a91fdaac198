package operations

import (
	"testing"
	"time"

	"github.com/ssbgp/dss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAgentRunConfig(t *testing.T) {
	settings := dss.AgentSettings{
		SimulatorBinary: "/opt/ssbgp/simulator",
		WorkingDir:      "/var/lib/dss",
		PollInterval:    30 * time.Second,
	}

	t.Run("SettingsFillUnsetFlags", func(t *testing.T) {
		cfg, err := mergeAgentRunConfig(agentRunConfig{pollInterval: 10 * time.Second}, false, settings)
		require.NoError(t, err)
		assert.Equal(t, "/opt/ssbgp/simulator", cfg.binary)
		assert.Equal(t, "/var/lib/dss", cfg.workingDir)
		assert.Equal(t, 30*time.Second, cfg.pollInterval)
	})

	t.Run("FlagsWin", func(t *testing.T) {
		flags := agentRunConfig{
			binary:       "/usr/local/bin/simulator",
			workingDir:   "/tmp/runs",
			pollInterval: 5 * time.Second,
		}
		cfg, err := mergeAgentRunConfig(flags, true, settings)
		require.NoError(t, err)
		assert.Equal(t, flags, cfg)
	})

	t.Run("FlagDefaultKeptWithoutSetting", func(t *testing.T) {
		cfg, err := mergeAgentRunConfig(agentRunConfig{pollInterval: 10 * time.Second}, false, dss.AgentSettings{SimulatorBinary: "sim"})
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.pollInterval)
	})

	t.Run("NoBinaryAnywhere", func(t *testing.T) {
		_, err := mergeAgentRunConfig(agentRunConfig{}, false, dss.AgentSettings{})
		assert.Error(t, err)
	})
}
