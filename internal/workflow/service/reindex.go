package service

import (
	"context"
	"errors"

	"crvs/internal/search"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

// RebuildReport summarizes a projection rebuild.
type RebuildReport struct {
	Rebuilt int
	Missing int
	Failed  int
}

// Rebuild re-projects one record from the store, participants included.
func (s *Service) Rebuild(ctx context.Context, recordID id.RecordID) error {
	ctx, span := s.tracer.Start(ctx, "workflow.Rebuild")
	defer span.End()

	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if err := s.indexer.Upsert(ctx, search.FromRecord(rec)); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// RebuildAll pages through every stored record. Individual index failures
// are counted and the walk continues; store failures stop it.
func (s *Service) RebuildAll(ctx context.Context, batch int) (RebuildReport, error) {
	if batch <= 0 {
		batch = 500
	}
	var (
		report RebuildReport
		after  id.RecordID
	)
	for {
		ids, err := s.store.ListIDs(ctx, after, batch)
		if err != nil {
			return report, translateStoreErr(err, "record not found")
		}
		for _, rid := range ids {
			if err := s.rebuildOne(ctx, rid, &report); err != nil {
				return report, err
			}
		}
		if len(ids) < batch {
			return report, nil
		}
		after = ids[len(ids)-1]
	}
}

// RebuildStale re-projects up to limit records from the stale set. Ids whose
// record no longer exists are cleared.
func (s *Service) RebuildStale(ctx context.Context, stale search.StaleSet, limit int) (RebuildReport, error) {
	var report RebuildReport
	ids, err := stale.List(ctx, limit)
	if err != nil {
		return report, err
	}
	for _, rid := range ids {
		before := report.Missing
		if err := s.rebuildOne(ctx, rid, &report); err != nil {
			return report, err
		}
		if report.Missing > before {
			if err := stale.Clear(ctx, rid); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (s *Service) rebuildOne(ctx context.Context, recordID id.RecordID, report *RebuildReport) error {
	err := s.Rebuild(ctx, recordID)
	var de *dErrors.Error
	switch {
	case err == nil:
		report.Rebuilt++
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		report.Missing++
	case errors.As(err, &de):
		// Store-side failures abort the walk; index failures do not.
		return err
	default:
		report.Failed++
		s.logger.WarnContext(ctx, "projection rebuild failed",
			"record_id", recordID.String(),
			"error", err,
		)
	}
	return nil
}
