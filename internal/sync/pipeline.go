package sync

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/fedragon/albumsync/internal/immich"
	"github.com/fedragon/albumsync/internal/journal"
	"github.com/fedragon/albumsync/internal/metrics"
)

// DefaultWorkers bounds the number of in-flight asset transfers, keeping
// both remote rate limits and local file descriptors in check.
const DefaultWorkers = 4

// Outcome is the per-asset result of one pipeline run.
type Outcome struct {
	Asset       immich.Asset
	UploadedID  string
	LocalDigest string
	Err         error
}

// Pipeline moves a missing set from a source album to a destination album:
// download to the staging dir, upload, attach to the destination album.
// Transfers run on a fixed pool of workers; one transfer's failure never
// stops its siblings.
type Pipeline struct {
	Source   *immich.SharedAlbum
	Dest     *immich.SharedAlbum
	DestPeer string
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Journal  *journal.Journal
	Workers  int
	DryRun   bool
}

type transferJob struct {
	index int
	asset immich.Asset
}

// Run processes the missing set and returns one Outcome per asset, in input
// order. In dry-run mode it only reports what would be transferred; no
// download, upload, attach or staging I/O happens.
func (p *Pipeline) Run(ctx context.Context, missing []immich.Asset, stagingDir string) []Outcome {
	outcomes := make([]Outcome, len(missing))
	for i, asset := range missing {
		outcomes[i] = Outcome{Asset: asset}
	}

	if p.DryRun {
		for _, asset := range missing {
			p.Logger.Info("Would sync asset",
				zap.String("file_name", asset.FileName),
				zap.String("asset_id", asset.ID))
		}
		return outcomes
	}

	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	jobs := make(chan transferJob)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				outcomes[job.index] = p.transfer(ctx, job.asset, stagingDir)
			}
		}()
	}

	for i, asset := range missing {
		jobs <- transferJob{index: i, asset: asset}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// transfer moves one asset end to end. Each stage's error fails only this
// asset's outcome.
func (p *Pipeline) transfer(ctx context.Context, asset immich.Asset, stagingDir string) Outcome {
	outcome := Outcome{Asset: asset}
	log := p.Logger.With(
		zap.String("file_name", asset.FileName),
		zap.String("asset_id", asset.ID))

	stop := p.Metrics.Record("download")
	path, err := p.Source.DownloadAsset(ctx, asset, stagingDir)
	_ = stop()
	if err != nil {
		outcome.Err = err
		return outcome
	}
	asset.LocalPath = path

	digest, err := digestFile(path)
	if err != nil {
		outcome.Err = fmt.Errorf("digesting %q: %w", asset.FileName, err)
		return outcome
	}
	outcome.LocalDigest = digest

	stop = p.Metrics.Record("upload")
	uploadedID, err := p.Dest.UploadAsset(ctx, asset)
	_ = stop()
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.UploadedID = uploadedID

	stop = p.Metrics.Record("attach")
	err = p.Dest.AttachAssets(ctx, []string{uploadedID})
	_ = stop()
	if err != nil {
		outcome.Err = err
		return outcome
	}

	_ = p.Metrics.Increment("transferred")

	if err := p.Journal.Record(p.DestPeer, asset.Checksum, journal.Entry{
		AssetID:     asset.ID,
		UploadedID:  uploadedID,
		FileName:    asset.FileName,
		LocalDigest: digest,
		SyncedAt:    time.Now().UTC(),
	}); err != nil {
		log.Warn("Cannot record transfer in journal", zap.Error(err))
	}

	log.Info("Synced asset", zap.String("uploaded_id", uploadedID))
	return outcome
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
