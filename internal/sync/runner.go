package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedragon/albumsync/internal/config"
	"github.com/fedragon/albumsync/internal/immich"
	"github.com/fedragon/albumsync/internal/journal"
	"github.com/fedragon/albumsync/internal/metrics"
)

// Runner walks the peer table and synchronizes every declared
// (destination, source) edge. Edges run sequentially and independently;
// only the transfer pipeline inside an edge is concurrent.
type Runner struct {
	Config  config.Config
	Client  *immich.Client
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Journal *journal.Journal
	Workers int
	DryRun  bool
}

// Run processes all edges and returns the joined errors of the ones that
// failed. A failing edge never stops the remaining edges.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		r.Logger.Info("Elapsed time", zap.Duration("elapsed", time.Since(start)))
	}()

	if r.DryRun {
		r.Logger.Info("Running in DRY-RUN mode: missing assets will only be reported")
	}

	var errs []error
	for name, peer := range r.Config {
		if len(peer.SyncWith) == 0 {
			continue
		}

		dest, err := r.Client.Resolve(ctx, peer.SharedLink)
		if err != nil {
			r.Logger.Error("Cannot resolve peer", zap.String("peer", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("resolving peer %q: %w", name, err))
			continue
		}

		for _, otherName := range peer.SyncWith {
			if err := r.syncEdge(ctx, name, dest, otherName); err != nil {
				r.Logger.Error("Sync failed",
					zap.String("destination", name),
					zap.String("source", otherName),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("syncing %q from %q: %w", name, otherName, err))
			}
		}
	}

	return errors.Join(errs...)
}

// syncEdge diffs one (destination, source) pair and transfers the missing
// assets. Both asset lists are fetched fresh at the start of the edge, so
// the diff is a snapshot: assets appearing remotely after this point are
// picked up by the next run.
func (r *Runner) syncEdge(ctx context.Context, destName string, dest *immich.SharedAlbum, sourceName string) error {
	otherPeer, ok := r.Config.Lookup(sourceName)
	if !ok {
		// validated at load time already
		return fmt.Errorf("%w: %q", config.ErrUnknownPeer, sourceName)
	}

	var source *immich.SharedAlbum
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resolved, err := r.Client.Resolve(gctx, otherPeer.SharedLink)
		if err != nil {
			return err
		}
		if _, err := resolved.ListAssets(gctx); err != nil {
			return err
		}
		source = resolved
		return nil
	})
	g.Go(func() error {
		_, err := dest.ListAssets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log := r.Logger.With(
		zap.String("source", fmt.Sprintf("%s (%s)", sourceName, source.Album.Name)),
		zap.String("destination", fmt.Sprintf("%s (%s)", destName, dest.Album.Name)))

	missing := Missing(source.Album.Assets, dest.Album.Assets)
	if len(missing) == 0 {
		log.Info("No assets to synchronize")
		return nil
	}

	if r.DryRun {
		log.Info("Assets that would be synced", zap.Int("count", len(missing)))
	} else {
		log.Info("Uploading missing assets", zap.Int("count", len(missing)))
	}

	stagingDir, err := os.MkdirTemp("", "albumsync-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			log.Warn("Cannot remove staging directory", zap.String("path", stagingDir), zap.Error(err))
		}
	}()

	pipeline := &Pipeline{
		Source:   source,
		Dest:     dest,
		DestPeer: destName,
		Logger:   r.Logger,
		Metrics:  r.Metrics,
		Journal:  r.Journal,
		Workers:  r.Workers,
		DryRun:   r.DryRun,
	}

	var failures []error
	var synced int
	for _, outcome := range pipeline.Run(ctx, missing, stagingDir) {
		if outcome.Err != nil {
			failures = append(failures, fmt.Errorf("asset %q: %w", outcome.Asset.FileName, outcome.Err))
			continue
		}
		synced++
	}

	if r.DryRun {
		return nil
	}

	log.Info("Edge done", zap.Int("synced", synced), zap.Int("failed", len(failures)))
	return errors.Join(failures...)
}
