package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
)

func embeddingsConfig(provider string) config.EmbeddingsConfig {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = provider
	return cfg
}

func TestNewEmbedder_AutoWithoutKeyIsStatic(t *testing.T) {
	// Given: no API key and no override
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RECALL_EMBEDDER", "")
	t.Setenv("RECALL_EMBED_CACHE", "")

	// When: the auto provider is selected
	e, err := NewEmbedder(embeddingsConfig(""))

	// Then: a cached static embedder is returned
	require.NoError(t, err)
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_AutoWithKeyIsOpenAI(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RECALL_EMBEDDER", "")
	t.Setenv("RECALL_EMBED_CACHE", "off")

	e, err := NewEmbedder(embeddingsConfig(""))

	require.NoError(t, err)
	oe, ok := e.(*OpenAIEmbedder)
	require.True(t, ok)
	assert.Equal(t, "text-embedding-3-small", oe.ModelName())
	assert.Equal(t, 1536, oe.Dimensions())
}

func TestNewEmbedder_ExplicitOpenAIWithoutKeyFails(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RECALL_EMBEDDER", "")

	_, err := NewEmbedder(embeddingsConfig("openai"))

	assert.Error(t, err)
}

func TestNewEmbedder_EnvOverridesProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RECALL_EMBEDDER", "static")
	t.Setenv("RECALL_EMBED_CACHE", "false")

	e, err := NewEmbedder(embeddingsConfig("openai"))

	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	t.Setenv("RECALL_EMBEDDER", "")

	_, err := NewEmbedder(embeddingsConfig("ollama"))

	assert.Error(t, err)
}

func TestIsCacheDisabled(t *testing.T) {
	for _, v := range []string{"false", "0", "OFF", "disabled"} {
		t.Setenv("RECALL_EMBED_CACHE", v)
		assert.True(t, isCacheDisabled(), v)
	}
	t.Setenv("RECALL_EMBED_CACHE", "")
	assert.False(t, isCacheDisabled())
}
