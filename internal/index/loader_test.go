package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleIndex = `{
  "model": "text-embedding-004",
  "builtAt": "2024-11-02T10:15:00.000Z",
  "sourceRoot": "/projects/game",
  "chunks": [
    {"id": "a", "text": "player controller", "source": "Assets/Player.cs", "embedding": [1, 0, 0]},
    {"id": "b", "text": "enemy spawner", "source": "Assets/Enemy.cs", "embedding": [0, 1, 0]}
  ]
}`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleIndex), 0o644))

	l := NewLoader(Config{Location: path}, zaptest.NewLogger(t))
	idx := l.Load(context.Background())
	require.NotNil(t, idx)

	assert.Equal(t, "text-embedding-004", idx.Model)
	assert.Equal(t, "/projects/game", idx.SourceRoot)
	assert.Equal(t, 2024, idx.BuiltAt.Year())
	assert.Len(t, idx.Chunks, 2)
	assert.Equal(t, 3, idx.Dimension())
	assert.Equal(t, "Assets/Enemy.cs", idx.Chunks[1].Source)
}

func TestLoadSharesInFlightFetch(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(sampleIndex))
	}))
	defer srv.Close()

	l := NewLoader(Config{Location: srv.URL + "/local-rag-index.json"}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if idx := l.Load(context.Background()); idx != nil {
				results[i] = len(idx.Chunks)
			}
		}(i)
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, n := range results {
		assert.Equal(t, 2, n)
	}

	// memoized afterwards
	require.NotNil(t, l.Load(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadAbsenceIsCachedAndNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewLoader(Config{Location: srv.URL}, zaptest.NewLogger(t))
	assert.Nil(t, l.Load(context.Background()))
	assert.Nil(t, l.Load(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadTransportFailureIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l := NewLoader(Config{Location: url, Timeout: time.Second}, zaptest.NewLogger(t))
	assert.Nil(t, l.Load(context.Background()))
}

func TestLoadMissingFileIsAbsent(t *testing.T) {
	l := NewLoader(Config{Location: filepath.Join(t.TempDir(), "nope.json")}, zaptest.NewLogger(t))
	assert.Nil(t, l.Load(context.Background()))
	_, _, ok := l.Info(context.Background())
	assert.False(t, ok)
}

func TestLoadCancelledCallerDoesNotPoisonCache(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(sampleIndex))
	}))
	defer srv.Close()

	l := NewLoader(Config{Location: srv.URL}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, l.Load(ctx))

	close(release)
	require.NotNil(t, l.Load(context.Background()))
}

func TestParseRejectsMalformedChunks(t *testing.T) {
	cases := map[string]string{
		"chunks object":  `{"model":"m","chunks":{"id":"a"}}`,
		"chunks missing": `{"model":"m"}`,
		"chunks null":    `{"model":"m","chunks":null}`,
		"not json":       `<html>`,
		"ragged":         `{"model":"m","chunks":[{"id":"a","embedding":[1,2]},{"id":"b","embedding":[1]}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyChunks(t *testing.T) {
	idx, err := Parse([]byte(`{"model":"m","builtAt":"bogus","chunks":[]}`))
	require.NoError(t, err)
	assert.Empty(t, idx.Chunks)
	assert.True(t, idx.BuiltAt.IsZero())
}
