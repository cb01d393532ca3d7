package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/text:synthesize", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MP3", req.AudioConfig.AudioEncoding)
		assert.NotEmpty(t, req.Input.Text)

		json.NewEncoder(w).Encode(synthesizeResponse{
			AudioContent: base64.StdEncoding.EncodeToString([]byte("fake-mp3-audio")),
		})
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		RateLimit:    100,
		DefaultLang:  "ko-KR",
		DefaultVoice: "ko-KR-Neural2-A",
		CacheSize:    8,
	}, testLogger())
	require.NoError(t, err)
	return client
}

func TestSynthesize(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, &calls)
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.Synthesize(context.Background(), Request{Text: "안녕하세요"})
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-mp3-audio"), result.Audio)
	assert.False(t, result.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesizeCachesRepeats(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, &calls)
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	first, err := client.Synthesize(ctx, Request{Text: "repeat me"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := client.Synthesize(ctx, Request{Text: "repeat me"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Audio, second.Audio)
	assert.Equal(t, int32(1), calls.Load())

	// Different voice is a different cache entry.
	_, err = client.Synthesize(ctx, Request{Text: "repeat me", Voice: "ko-KR-Neural2-B"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSynthesizeDisabledWithoutKey(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:1"}, testLogger())
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	_, err = client.Synthesize(context.Background(), Request{Text: "hello"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSynthesizeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Synthesize(context.Background(), Request{Text: "hello"})
	assert.ErrorContains(t, err, "429")
}

func TestSynthesizeBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.Synthesize(ctx, Request{Text: "fail"})
		require.Error(t, err)
		// Each attempt needs a distinct text to bypass the audio cache.
		client.cache.Purge()
	}

	_, err := client.Synthesize(ctx, Request{Text: "after open"})
	assert.ErrorContains(t, err, "circuit breaker open")
}

func TestSynthesizeEmptyAudioRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(synthesizeResponse{AudioContent: ""})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Synthesize(context.Background(), Request{Text: "hello"})
	assert.ErrorContains(t, err, "empty audio")
}
