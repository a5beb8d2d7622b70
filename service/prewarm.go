package service

import (
	"context"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/tiled/pyramid"
	"github.com/janelia-flyem/tiled/tiled"
)

// DefaultPrewarmConcurrency is the number of tiles rendered at once by Prewarm.
const DefaultPrewarmConcurrency = 4

// PrewarmStats summarizes a pre-warming run.
type PrewarmStats struct {
	Queries   int
	Generated int64
	Hits      int64
	Committed int64
	Failed    int64
}

// Prewarm renders every tile of an image's pyramid, committing new tiles to the
// permanent tile store when one is configured.  Individual tile failures are
// counted rather than aborting the run.
func (s *Service) Prewarm(ctx context.Context, raw string, concurrency int) (PrewarmStats, error) {
	var stats PrewarmStats
	timedLog := tiled.NewTimeLog()
	info, err := s.Info(ctx, raw)
	if err != nil {
		return stats, err
	}
	queries, err := pyramid.Plan(info.Width, info.Height)
	if err != nil {
		return stats, err
	}
	stats.Queries = len(queries)
	if concurrency <= 0 {
		concurrency = DefaultPrewarmConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req := Request{
				Identifier: raw,
				Region:     q.Region.String(),
				Size:       "full",
				Level:      q.Level,
			}
			if _, _, found := s.StoredTile(req); found {
				atomic.AddInt64(&stats.Hits, 1)
				return nil
			}
			resp := s.Resolve(gctx, req)
			switch {
			case resp.Status != http.StatusOK:
				atomic.AddInt64(&stats.Failed, 1)
				tiled.Infof("Unable to pre-warm %s%s: %s\n", info.ID, q, resp.Body)
			case resp.Handoff == nil:
				atomic.AddInt64(&stats.Hits, 1)
			default:
				atomic.AddInt64(&stats.Generated, 1)
				if s.tiles == nil {
					return nil
				}
				if _, err := s.CommitHandoff(resp.Handoff); err != nil {
					atomic.AddInt64(&stats.Failed, 1)
					tiled.Errorf("Unable to commit pre-warmed tile %s: %v\n", resp.Handoff.Key, err)
				} else {
					atomic.AddInt64(&stats.Committed, 1)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	timedLog.Infof("Pre-warmed %d tiles of %s (%d generated, %d hits, %d failed)",
		stats.Queries, info.ID, stats.Generated, stats.Hits, stats.Failed)
	return stats, err
}
