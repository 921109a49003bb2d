package gateway

import (
	"context"
	"fmt"
)

// ResetResult reports what Reset removed.
type ResetResult struct {
	Archived     int `json:"archived"`
	DeletedLogs  int `json:"deleted_logs"`
	DeletedUsage int `json:"deleted_usage"`
}

// Reset bulk deletes the activity log and every usage record. When an
// archiver is configured the activity log is archived first and a failed
// archive aborts the reset.
func (s *Service) Reset(ctx context.Context) (*ResetResult, error) {
	res := &ResetResult{}

	if s.deps.Archiver != nil {
		entries, err := s.deps.Activity.All(ctx)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			if err := s.deps.Archiver.Archive(ctx, entries); err != nil {
				return nil, fmt.Errorf("archive activity: %w", err)
			}
		}
		res.Archived = len(entries)
	}

	n, err := s.deps.Activity.DeleteAll(ctx)
	if err != nil {
		return res, err
	}
	res.DeletedLogs = n

	n, err = s.deps.Ledger.DropAll(ctx)
	if err != nil {
		return res, err
	}
	res.DeletedUsage = n

	s.logger.Info("Reset complete", "archived", res.Archived, "logs", res.DeletedLogs, "usage", res.DeletedUsage)
	return res, nil
}
