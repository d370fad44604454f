package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
	"github.com/alanyoungcy/cyphercast/internal/store/memory"
)

// memBucket is an in-memory BlobWriter and BlobReader.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	lists   int
}

func newMemBucket() *memBucket { return &memBucket{objects: make(map[string][]byte)} }

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	var out []domain.BlobInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var (
	creator = domain.Address{0x01}
	viewer  = domain.Address{0x02}
	mint    = domain.Address{0x03}
)

func settledEngine(t *testing.T, now int64) (*engine.Engine, domain.Stream) {
	t.Helper()
	ctx := context.Background()
	eng := engine.New(memory.New())
	eng.SetNowFunc(func() int64 { return now })

	require.NoError(t, eng.SeedBalances(ctx, []engine.Allocation{{Owner: viewer, Mint: mint, Amount: 100}}))
	st, err := eng.CreateStream(ctx, creator, engine.CreateStreamParams{StreamID: 7, Title: "t", StartTime: now, LockOffsetSecs: 60})
	require.NoError(t, err)
	_, err = eng.InitializeTokenVault(ctx, creator, st.Address, mint)
	require.NoError(t, err)
	_, err = eng.SubmitPrediction(ctx, viewer, st.Address, 1, 40)
	require.NoError(t, err)
	st, err = eng.CancelStream(ctx, creator, st.Address)
	require.NoError(t, err)

	// An unsettled stream must be skipped.
	_, err = eng.CreateStream(ctx, creator, engine.CreateStreamParams{StreamID: 8, Title: "open", StartTime: now})
	require.NoError(t, err)
	return eng, st
}

func TestArchivePath(t *testing.T) {
	a := domain.Address{0xab}
	at := time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "streams/2026/03/"+a.Hex()+".json", ArchivePath(a, at))
}

func TestArchiveSettledWritesOncePerStream(t *testing.T) {
	now := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	eng, st := settledEngine(t, now.Unix())
	bucket := newMemBucket()
	arch := NewArchiver(eng, bucket, bucket, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	n, err := arch.ArchiveSettled(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "cutoff is exclusive")

	n, err = arch.ArchiveSettled(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = arch.ArchiveSettled(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, bucket.puts)

	doc, err := arch.Load(ctx, ArchivePath(st.Address, now))
	require.NoError(t, err)
	assert.Equal(t, st.Address, doc.Stream.Address)
	assert.True(t, doc.Stream.IsCanceled())
	require.NotNil(t, doc.Vault)
	assert.Equal(t, uint64(40), doc.Vault.TotalDeposited)
	require.Len(t, doc.Predictions, 1)
	assert.Equal(t, viewer, doc.Predictions[0].Viewer)

	listed, err := bucket.List(ctx, "streams/2026/10/")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestArchiveSettledSkipsObjectsAlreadyListed(t *testing.T) {
	now := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	eng, st := settledEngine(t, now.Unix())
	bucket := newMemBucket()
	bucket.objects[ArchivePath(st.Address, now)] = []byte(`{}`)
	arch := NewArchiver(eng, bucket, bucket, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := arch.ArchiveSettled(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, bucket.puts)
	assert.Equal(t, 1, bucket.lists)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
