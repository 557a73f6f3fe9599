package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.Tree.CompactOnDelete)
	assert.Equal(t, 3, cfg.Tree.MaxMoveRetries)
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromYAMLOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	body := "tree:\n  compact_on_delete: true\nlog:\n  format: json\nwebhooks:\n  - url: http://example.test/hook\n    events: [node.moved]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ganttline.yml"), []byte(body), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Tree.CompactOnDelete)
	assert.Equal(t, 3, cfg.Tree.MaxMoveRetries, "unset keys keep their default")
	assert.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"node.moved"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"base path":  "server:\n  base_path: v0\n",
		"retries":    "tree:\n  max_move_retries: -1\n",
		"log level":  "log:\n  level: loud\n",
		"hook url":   "webhooks:\n  - events: [node.moved]\n",
		"bad yaml":   "server: [",
		"log format": "log:\n  format: xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	log.Info("hidden")
	log.Warn("shown", "node_id", "n1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"node_id":"n1"`)
}
