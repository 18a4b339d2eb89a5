package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0, 2}, []float32{1, 0, 2}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// degenerate inputs
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.75}
	data := EncodeVector(vec)
	require.Len(t, data, 16)
	assert.Equal(t, vec, DecodeVector(data))

	assert.Nil(t, EncodeVector(nil))
	assert.Nil(t, DecodeVector(nil))
	assert.Nil(t, DecodeVector([]byte{1, 2, 3}))
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(64)
	require.Equal(t, 64, e.Dimension())

	vecs1, err := e.Embed(context.Background(), []string{"data analyst agent"})
	require.NoError(t, err)
	vecs2, err := e.Embed(context.Background(), []string{"data analyst agent"})
	require.NoError(t, err)

	require.Len(t, vecs1, 1)
	assert.Equal(t, vecs1[0], vecs2[0])
	assert.Len(t, vecs1[0], 64)
}

func TestLocalEmbedderNormalized(t *testing.T) {
	e := NewLocalEmbedder(32)
	vecs, err := e.Embed(context.Background(), []string{"write stories and poems"})
	require.NoError(t, err)

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestLocalEmbedderSimilarityOrdering(t *testing.T) {
	e := NewLocalEmbedder(DefaultLocalDimensions)
	vecs, err := e.Embed(context.Background(), []string{
		"analyze csv data and compute statistics",
		"data analysis and statistics helper",
		"write fantasy short stories",
	})
	require.NoError(t, err)

	simRelated := Cosine(vecs[0], vecs[1])
	simUnrelated := Cosine(vecs[0], vecs[2])
	assert.Greater(t, simRelated, simUnrelated)
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e := NewLocalEmbedder(16)
	vecs, err := e.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.Len(t, req.Input, 2)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL + "/v1", APIKey: "test-key", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	// order restored from the index field
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestOpenAIEmbedderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIEmbedderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
}

func TestOpenAIEmbedderNoInput(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIOptions{})
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
