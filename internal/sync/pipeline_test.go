package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedragon/albumsync/internal/immich"
	"github.com/fedragon/albumsync/internal/metrics"
)

// fakeInstance is an in-process Immich look-alike serving the five remote
// operations, instrumented with per-operation call and in-flight counters.
type fakeInstance struct {
	srv       *httptest.Server
	key       string
	albumID   string
	albumName string
	delay     time.Duration

	mu            gosync.Mutex
	assets        []immich.Asset
	uploaded      []string
	attached      []string
	failDownloads map[string]bool

	downloadCalls, uploadCalls, attachCalls int
	inflightDownloads, maxDownloads         int
	inflightUploads, maxUploads             int
}

func newFakeInstance(t *testing.T, name string, assets []immich.Asset) *fakeInstance {
	t.Helper()

	f := &fakeInstance{
		key:           "key-" + name,
		albumID:       "alb-" + name,
		albumName:     name,
		assets:        assets,
		failDownloads: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/shared-links/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"album": map[string]any{"id": f.albumID, "albumName": f.albumName},
		})
	})
	mux.HandleFunc("GET /api/albums/"+f.albumID, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"assets": f.assets})
	})
	mux.HandleFunc("GET /api/assets/{id}/original", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		f.mu.Lock()
		f.downloadCalls++
		f.inflightDownloads++
		if f.inflightDownloads > f.maxDownloads {
			f.maxDownloads = f.inflightDownloads
		}
		fail := f.failDownloads[id]
		f.mu.Unlock()

		time.Sleep(f.delay)

		f.mu.Lock()
		f.inflightDownloads--
		f.mu.Unlock()

		if fail {
			http.Error(w, "storage offline", http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprintf(w, "bytes of %s", id)
	})
	mux.HandleFunc("POST /api/assets", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploadCalls++
		f.inflightUploads++
		if f.inflightUploads > f.maxUploads {
			f.maxUploads = f.inflightUploads
		}
		f.mu.Unlock()

		time.Sleep(f.delay)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("assetData")
		require.NoError(t, err)
		_ = file.Close()

		f.mu.Lock()
		f.inflightUploads--
		f.uploaded = append(f.uploaded, header.Filename)
		id := fmt.Sprintf("up-%d", len(f.uploaded))
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("PUT /api/albums/"+f.albumID+"/assets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.attachCalls++
		f.attached = append(f.attached, body["ids"]...)
		f.mu.Unlock()
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeInstance) shareLink() string {
	return f.srv.URL + "/share/" + f.key
}

func (f *fakeInstance) resolve(t *testing.T) *immich.SharedAlbum {
	t.Helper()

	album, err := immich.NewClient().Resolve(context.Background(), f.shareLink())
	require.NoError(t, err)
	_, err = album.ListAssets(context.Background())
	require.NoError(t, err)

	return album
}

func (f *fakeInstance) uploadedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploaded)
}

func (f *fakeInstance) transferCalls() (downloads, uploads, attaches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls, f.uploadCalls, f.attachCalls
}

func sourceAssets(n int) []immich.Asset {
	assets := make([]immich.Asset, 0, n)
	for i := 0; i < n; i++ {
		assets = append(assets, immich.Asset{
			ID:             fmt.Sprintf("a%d", i),
			Checksum:       fmt.Sprintf("c%d", i),
			FileName:       fmt.Sprintf("img-%d.jpg", i),
			DeviceID:       "phone-1",
			DeviceAssetID:  fmt.Sprintf("da-%d", i),
			FileCreatedAt:  "2024-01-01T00:00:00Z",
			FileModifiedAt: "2024-01-01T00:00:00Z",
		})
	}
	return assets
}

func newPipeline(source, dest *immich.SharedAlbum, dryRun bool) *Pipeline {
	return &Pipeline{
		Source:   source,
		Dest:     dest,
		DestPeer: "dest",
		Logger:   zap.NewNop(),
		Metrics:  metrics.NoMetrics(),
		DryRun:   dryRun,
	}
}

func TestPipelineTransfersMissingAssets(t *testing.T) {
	src := newFakeInstance(t, "source", sourceAssets(3))
	dst := newFakeInstance(t, "dest", nil)

	source := src.resolve(t)
	dest := dst.resolve(t)

	missing := Missing(source.Album.Assets, dest.Album.Assets)
	require.Len(t, missing, 3)

	outcomes := newPipeline(source, dest, false).Run(context.Background(), missing, t.TempDir())
	require.Len(t, outcomes, 3)
	for i, outcome := range outcomes {
		assert.NoError(t, outcome.Err)
		assert.Equal(t, missing[i].Checksum, outcome.Asset.Checksum)
		assert.NotEmpty(t, outcome.UploadedID)
		assert.NotEmpty(t, outcome.LocalDigest)
	}

	assert.Equal(t, 3, dst.uploadedCount())
	dst.mu.Lock()
	assert.Len(t, dst.attached, 3)
	dst.mu.Unlock()
}

func TestPipelineConcurrencyBound(t *testing.T) {
	src := newFakeInstance(t, "source", sourceAssets(20))
	src.delay = 10 * time.Millisecond
	dst := newFakeInstance(t, "dest", nil)
	dst.delay = 10 * time.Millisecond

	source := src.resolve(t)
	dest := dst.resolve(t)

	missing := Missing(source.Album.Assets, dest.Album.Assets)
	outcomes := newPipeline(source, dest, false).Run(context.Background(), missing, t.TempDir())

	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
	}

	src.mu.Lock()
	maxDownloads := src.maxDownloads
	src.mu.Unlock()
	dst.mu.Lock()
	maxUploads := dst.maxUploads
	dst.mu.Unlock()

	assert.LessOrEqual(t, maxDownloads, DefaultWorkers)
	assert.LessOrEqual(t, maxUploads, DefaultWorkers)
	assert.Positive(t, maxDownloads)
}

func TestPipelineFailureDoesNotStopSiblings(t *testing.T) {
	src := newFakeInstance(t, "source", sourceAssets(3))
	src.failDownloads["a1"] = true
	dst := newFakeInstance(t, "dest", nil)

	source := src.resolve(t)
	dest := dst.resolve(t)

	missing := Missing(source.Album.Assets, dest.Album.Assets)
	outcomes := newPipeline(source, dest, false).Run(context.Background(), missing, t.TempDir())
	require.Len(t, outcomes, 3)

	var failed, succeeded int
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			var remoteErr *immich.RemoteError
			require.ErrorAs(t, outcome.Err, &remoteErr)
			assert.Contains(t, remoteErr.Body, "storage offline")
			continue
		}
		succeeded++
	}

	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, dst.uploadedCount())
}

func TestPipelineDryRun(t *testing.T) {
	src := newFakeInstance(t, "source", sourceAssets(2))
	dst := newFakeInstance(t, "dest", nil)

	source := src.resolve(t)
	dest := dst.resolve(t)

	missing := Missing(source.Album.Assets, dest.Album.Assets)
	require.Len(t, missing, 2)

	stagingDir := t.TempDir()
	outcomes := newPipeline(source, dest, true).Run(context.Background(), missing, stagingDir)

	// same missing-set size as a real run would act on
	assert.Len(t, outcomes, 2)

	downloads, _, _ := src.transferCalls()
	_, uploads, attaches := dst.transferCalls()
	assert.Zero(t, downloads)
	assert.Zero(t, uploads)
	assert.Zero(t, attaches)

	staged, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, staged)
}
