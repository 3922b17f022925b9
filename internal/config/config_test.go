package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "SUB", cfg.Identifiers.Submission.Prefix)
	assert.True(t, cfg.Identifiers.Submission.Daily)
	assert.Equal(t, 30*time.Second, cfg.Counter.Breaker.OpenTimeout)
	assert.True(t, cfg.Policy().Can("evaluator", "self_assign"))
	assert.False(t, cfg.Policy().Can("student", "self_assign"))
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("tariff:\n  per_unit:\n    evaluation: 4000\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 4000, cfg.Tariff.PerUnit.Evaluation)
	assert.EqualValues(t, 1500, cfg.Tariff.PerUnit.Translation)
	assert.Contains(t, cfg.Roles, "admin")
}

func TestRolesSectionReplacesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("roles:\n  clerk: [submit]\n"))
	require.NoError(t, err)
	assert.Len(t, cfg.Roles, 1)
	assert.False(t, cfg.Policy().HasRole("admin"))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown capability": "roles:\n  clerk: [fly]\n",
		"shared prefix":      "identifiers:\n  receipt:\n    prefix: SUB\n",
		"redis without addr": "counter:\n  backend: redis\n",
		"mongo without uri":  "counter:\n  backend: mongo\n",
		"unknown backend":    "counter:\n  backend: etcd\n",
		"bad currency":       "currency: dollars\n",
		"zero width":         "identifiers:\n  submission:\n    width: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Currency, cfg.Currency)

	require.NoError(t, os.WriteFile(Path(dir), []byte("currency: EUR\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}
