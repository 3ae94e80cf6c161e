package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxoscn/llmdispatch/llmcore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(DriverSQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	s, err := New(db, nil)
	require.NoError(t, err)
	return s
}

func TestStore_FindDefaultByTenant_MissReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.FindDefaultByTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestStore_PutThenFindDefaultByTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := llmcore.ModelConfig{
		ID:           "cfg-1",
		ProviderKind: llmcore.KindOpenAIStyle,
		ModelName:    "gpt-4",
		Credentials:  llmcore.Credentials{APIKey: "sk-test"},
	}
	require.NoError(t, s.Put(ctx, "tenant-a", true, want))

	got, err := s.FindDefaultByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cfg-1", got.ID)
	assert.Equal(t, "gpt-4", got.ModelName)
	assert.Equal(t, "sk-test", got.Credentials.APIKey)
}

func TestStore_PutNewDefaultClearsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := llmcore.ModelConfig{ID: "cfg-1", ProviderKind: llmcore.KindOpenAIStyle, ModelName: "gpt-4"}
	second := llmcore.ModelConfig{ID: "cfg-2", ProviderKind: llmcore.KindAnthropicStyle, ModelName: "claude-3"}
	require.NoError(t, s.Put(ctx, "tenant-a", true, first))
	require.NoError(t, s.Put(ctx, "tenant-a", true, second))

	got, err := s.FindDefaultByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cfg-2", got.ID)
}

func TestStore_FindByID_MissReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.FindByID(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestStore_FindByID_RoundTripsSamplingParamsAndStopSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	temp := 0.7
	want := llmcore.ModelConfig{
		ID:           "cfg-3",
		ProviderKind: llmcore.KindLocalOpenAICompatible,
		ModelName:    "llama3",
		SamplingParams: llmcore.SamplingParams{
			Temperature:   &temp,
			StopSequences: []string{"<|eot|>", "\n\n"},
		},
	}
	require.NoError(t, s.Put(ctx, "tenant-b", false, want))

	got, err := s.FindByID(ctx, "cfg-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.SamplingParams.Temperature)
	assert.Equal(t, 0.7, *got.SamplingParams.Temperature)
	assert.Equal(t, []string{"<|eot|>", "\n\n"}, got.SamplingParams.StopSequences)
}
