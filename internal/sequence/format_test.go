package sequence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/sequence"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		prefix, scope string
		value         int64
		width         int
		want          string
	}{
		{"SUB", "20250101", 42, 4, "SUB-20250101-0042"},
		{"RCP", "", 7, 6, "RCP-000007"},
		{"SUB", "EU-20250101", 1, 3, "SUB-EU-20250101-001"},
		{"SUB", "", 123456, 4, "SUB-123456"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sequence.Format(c.prefix, c.scope, c.value, c.width))
	}
}

func TestScope(t *testing.T) {
	assert.Equal(t, "SUB-20250101", sequence.Scope("SUB", "20250101"))
	assert.Equal(t, "SUB", sequence.Scope("SUB"))
	assert.Equal(t, "SUB-EU", sequence.Scope("SUB", "", "EU"))
}

func TestDateTokenUsesUTC(t *testing.T) {
	local := time.Date(2025, 1, 1, 23, 30, 0, 0, time.FixedZone("UTC-1", -3600))
	assert.Equal(t, "20250102", sequence.DateToken(local))
}

type memCounter struct {
	mu     sync.Mutex
	values map[string]int64
	scopes []string
}

func (m *memCounter) Next(_ context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]int64{}
	}
	m.values[scope]++
	m.scopes = append(m.scopes, scope)
	return m.values[scope], nil
}

func TestGeneratorDailyAndRegion(t *testing.T) {
	counter := &memCounter{}
	day := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	gen := sequence.Generator{Counter: counter, Now: func() time.Time { return day }}
	ctx := context.Background()

	daily := config.IdentifierFormat{Prefix: "SUB", Width: 4, Daily: true}
	id, err := gen.Next(ctx, daily)
	require.NoError(t, err)
	assert.Equal(t, "SUB-20250101-0001", id)
	id, err = gen.Next(ctx, daily)
	require.NoError(t, err)
	assert.Equal(t, "SUB-20250101-0002", id)

	day = day.Add(24 * time.Hour)
	id, err = gen.Next(ctx, daily)
	require.NoError(t, err)
	assert.Equal(t, "SUB-20250102-0001", id, "daily scope restarts the sequence")

	running := config.IdentifierFormat{Prefix: "RCP", Width: 6}
	id, err = gen.Next(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, "RCP-000001", id)

	regional := config.IdentifierFormat{Prefix: "SUB", Width: 4, Region: "eu"}
	id, err = gen.Next(ctx, regional)
	require.NoError(t, err)
	assert.Equal(t, "SUB-EU-0001", id)
	assert.Equal(t, "SUB-EU", gen.ScopeFor(regional))

	assert.Equal(t, []string{"SUB-20250101", "SUB-20250101", "SUB-20250102", "RCP", "SUB-EU"}, counter.scopes)
}
