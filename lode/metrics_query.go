package lode

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// ErrNoFramesFound is returned when a run has no journal frames.
var ErrNoFramesFound = errors.New("no journal frames found")

// QueryLatestMetrics returns the most recent metrics record, optionally
// filtered by thread.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, threadID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "waypoint/snapshots")
	}

	// Snapshots are ordered by creation time; walk newest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasPartition(snap, "event_type", "metrics") {
			continue
		}
		if !snapshotHasPartition(snap, "thread_id", threadID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("waypoint/snapshot/%s", snap.ID))
		}

		// Path filtering is coarse; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if threadID != "" && toString(record["thread_id"]) != threadID {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoMetricsFound
}

// QueryRunFrames returns every journal frame of one run, ordered by seq.
// A frame written twice (a retried flush) is returned once.
func QueryRunFrames(ctx context.Context, ds lode.Dataset, runID string) ([]*FrameRecord, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "waypoint/snapshots")
	}

	seen := make(map[int64]struct{})
	var frames []*FrameRecord
	for _, snap := range snapshots {
		if !snapshotHasPartition(snap, "run_id", runID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("waypoint/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindFrame || toString(record["run_id"]) != runID {
				continue
			}
			rec, err := DecodeFrameRecord(record)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[rec.Seq]; dup {
				continue
			}
			seen[rec.Seq] = struct{}{}
			frames = append(frames, rec)
		}
	}

	if len(frames) == 0 {
		return nil, ErrNoFramesFound
	}
	slices.SortFunc(frames, func(a, b *FrameRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	return frames, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
