package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const maxSummaryLen = 200

// snapshot is everything Create captures under one transaction.
type snapshot struct {
	mission  *types.Mission
	sorties  []*types.Sortie
	locks    []*types.Lock
	messages []*types.Message
	recovery types.RecoveryContext
	maxSeq   int64
}

// buildSnapshot reads the mission, its sorties, the active locks and pending
// mail of every assigned specialist, and the event high-water mark, all on
// the caller's transaction. Lists come back in deterministic order so two
// snapshots of the same state serialize identically.
func (e *Engine) buildSnapshot(ctx context.Context, tx *sql.Tx, missionID string) (*snapshot, error) {
	mission, err := fleet.MissionByIDTx(ctx, tx, missionID)
	if err != nil {
		return nil, err
	}
	if mission == nil {
		return nil, types.NotFoundf("mission %s not found", missionID)
	}
	sorties, err := fleet.SortiesByMissionTx(ctx, tx, missionID)
	if err != nil {
		return nil, err
	}

	specialists := assignedSpecialists(sorties)
	var activeLocks []*types.Lock
	var pending []*types.Message
	for _, specID := range specialists {
		held, err := locks.ActiveBySpecialistTx(ctx, tx, specID)
		if err != nil {
			return nil, err
		}
		activeLocks = append(activeLocks, held...)
		mail, err := mailbox.PendingByMailboxTx(ctx, tx, specID)
		if err != nil {
			return nil, err
		}
		pending = append(pending, mail...)
	}
	sort.Slice(activeLocks, func(i, j int) bool {
		return activeLocks[i].NormalizedPath < activeLocks[j].NormalizedPath
	})
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].SentAt.Equal(pending[j].SentAt) {
			return pending[i].SentAt.Before(pending[j].SentAt)
		}
		return pending[i].ID < pending[j].ID
	})

	recovery, err := e.buildRecoveryContext(ctx, tx, mission, sorties)
	if err != nil {
		return nil, err
	}
	maxSeq, err := e.log.MaxGlobalSeqTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	return &snapshot{
		mission:  mission,
		sorties:  sorties,
		locks:    activeLocks,
		messages: pending,
		recovery: recovery,
		maxSeq:   maxSeq,
	}, nil
}

// buildRecoveryContext condenses the mission's current shape into the hints
// a resuming agent needs before it reads anything else.
func (e *Engine) buildRecoveryContext(ctx context.Context, tx *sql.Tx, mission *types.Mission, sorties []*types.Sortie) (types.RecoveryContext, error) {
	rc := types.RecoveryContext{
		LastAction:     types.EventMissionCreated,
		LastActivityAt: mission.CreatedAt,
	}
	tail, err := e.log.StreamTailTx(ctx, tx, types.StreamMission, mission.ID, 1)
	if err != nil {
		return rc, err
	}
	if len(tail) > 0 {
		rc.LastAction = tail[0].EventType
		rc.LastActivityAt = tail[0].OccurredAt
	}

	filesSeen := make(map[string]struct{})
	for _, s := range sorties {
		for _, f := range s.Files {
			filesSeen[f] = struct{}{}
		}
		switch {
		case s.Status == types.SortieBlocked:
			reason := s.Title
			if s.BlockedReason != nil {
				reason = *s.BlockedReason
			}
			rc.Blockers = append(rc.Blockers, reason)
			rc.NextSteps = append(rc.NextSteps, fmt.Sprintf("%s (%s)", s.Title, s.Status))
		case !types.TerminalSortie(s.Status):
			rc.NextSteps = append(rc.NextSteps, fmt.Sprintf("%s (%s)", s.Title, s.Status))
		}
	}
	for f := range filesSeen {
		rc.FilesModified = append(rc.FilesModified, f)
	}
	sort.Strings(rc.FilesModified)

	summary := mission.Title
	if mission.Description != nil && *mission.Description != "" {
		summary += ": " + *mission.Description
	}
	rc.MissionSummary = truncate(summary, maxSummaryLen)

	since := mission.CreatedAt
	if mission.StartedAt != nil {
		since = *mission.StartedAt
	}
	rc.ElapsedTimeMS = e.now().UTC().Sub(since).Milliseconds()
	return rc, nil
}

// assignedSpecialists returns the distinct assignees across sorties, sorted.
func assignedSpecialists(sorties []*types.Sortie) []string {
	seen := make(map[string]struct{})
	for _, s := range sorties {
		if s.AssignedTo != nil {
			seen[*s.AssignedTo] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
