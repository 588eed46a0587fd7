package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chatcore/internal/domain"
)

// DefaultLocation is where the offline indexer writes its artifact.
const DefaultLocation = "public/local-rag-index.json"

var (
	errNotArray          = errors.New("index chunks is not an array")
	errInconsistentShape = errors.New("index chunks have inconsistent embedding dimensions")
)

// Config configures the index loader.
type Config struct {
	// Location is an http(s) URL or a filesystem path.
	Location string
	Timeout  time.Duration
}

// Loader fetches the retrieval index once per process and memoizes the outcome,
// including absence.
type Loader struct {
	location string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	resolved bool
	index    *domain.RetrievalIndex
}

// NewLoader creates a loader for the given artifact location.
func NewLoader(cfg Config, log *zap.Logger) *Loader {
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		location: cfg.Location,
		timeout:  cfg.Timeout,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.Named("index"),
	}
}

// Load returns the index, or nil when it is unavailable. It never fails: fetch and
// parse problems are logged and the absence is cached for the loader's lifetime.
// Concurrent callers share one in-flight fetch.
func (l *Loader) Load(ctx context.Context) *domain.RetrievalIndex {
	if idx, ok := l.cached(); ok {
		return idx
	}
	ch := l.group.DoChan("index", func() (interface{}, error) {
		if idx, ok := l.cached(); ok {
			return idx, nil
		}
		// Detached from the caller so one cancelled request cannot cache absence.
		fetchCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		idx, err := l.fetch(fetchCtx)
		if err != nil {
			l.log.Warn("retrieval index unavailable", zap.String("location", l.location), zap.Error(err))
			idx = nil
		} else {
			l.log.Info("retrieval index loaded",
				zap.String("location", l.location),
				zap.String("model", idx.Model),
				zap.Int("chunks", len(idx.Chunks)),
				zap.Int("dimension", idx.Dimension()))
		}
		l.mu.Lock()
		l.index, l.resolved = idx, true
		l.mu.Unlock()
		return idx, nil
	})
	select {
	case res := <-ch:
		idx, _ := res.Val.(*domain.RetrievalIndex)
		return idx
	case <-ctx.Done():
		return nil
	}
}

// Info reports index provenance for prompt headers.
func (l *Loader) Info(ctx context.Context) (builtAt time.Time, sourceRoot string, ok bool) {
	idx := l.Load(ctx)
	if idx == nil {
		return time.Time{}, "", false
	}
	return idx.BuiltAt, idx.SourceRoot, true
}

func (l *Loader) cached() (*domain.RetrievalIndex, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index, l.resolved
}

func (l *Loader) fetch(ctx context.Context) (*domain.RetrievalIndex, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(l.location, "http://") || strings.HasPrefix(l.location, "https://") {
		data, err = l.fetchHTTP(ctx)
	} else {
		data, err = os.ReadFile(l.location)
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (l *Loader) fetchHTTP(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("could not load index: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Parse decodes an index artifact and validates its chunk collection.
func Parse(data []byte) (*domain.RetrievalIndex, error) {
	var raw struct {
		Model      string          `json:"model"`
		BuiltAt    string          `json:"builtAt"`
		SourceRoot string          `json:"sourceRoot"`
		Chunks     json.RawMessage `json:"chunks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	trimmed := bytes.TrimSpace(raw.Chunks)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}
	idx := &domain.RetrievalIndex{Model: raw.Model, SourceRoot: raw.SourceRoot}
	if err := json.Unmarshal(trimmed, &idx.Chunks); err != nil {
		return nil, fmt.Errorf("decode index chunks: %w", err)
	}
	if raw.BuiltAt != "" {
		// Provenance only; a malformed timestamp does not disable retrieval.
		if t, err := time.Parse(time.RFC3339Nano, raw.BuiltAt); err == nil {
			idx.BuiltAt = t
		}
	}
	dim := idx.Dimension()
	for _, c := range idx.Chunks {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("%w: chunk %q has %d, want %d", errInconsistentShape, c.ID, len(c.Embedding), dim)
		}
	}
	return idx, nil
}
