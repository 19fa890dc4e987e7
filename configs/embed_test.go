package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gravis-app/ragcore/internal/config"
)

func TestConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given the defaults
	defaults := config.NewConfig()

	// When the template is decoded over them
	cfg := config.NewConfig()
	require.NoError(t, yaml.Unmarshal([]byte(ConfigTemplate), cfg))

	// Then nothing changes and the result validates
	assert.Equal(t, defaults, cfg)
	assert.NoError(t, cfg.Validate())
}
