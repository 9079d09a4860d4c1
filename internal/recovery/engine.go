// Package recovery finds missions that went quiet mid-flight and replays a
// checkpoint's intent to bring them back. Both halves work through the event
// log: detection only reads, restore appends mission_restored /
// sortie_restored / lock and message events and lets the projections catch
// up, so a full replay after a restore converges to the same state.
package recovery

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/checkpoint"
	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Engine detects stale missions and restores them from checkpoints.
type Engine struct {
	store       *storage.Store
	log         *eventlog.Log
	fleet       *fleet.Manager
	locks       *locks.Manager
	mail        *mailbox.Manager
	checkpoints *checkpoint.Engine
	lg          zerolog.Logger
	now         func() time.Time
}

// NewEngine wires the recovery engine against the managers whose state it
// replays.
func NewEngine(store *storage.Store, log *eventlog.Log, fl *fleet.Manager, lk *locks.Manager, mail *mailbox.Manager, cps *checkpoint.Engine, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		log:         log,
		fleet:       fl,
		locks:       lk,
		mail:        mail,
		checkpoints: cps,
		lg:          logger.With().Str("component", "recovery").Logger(),
		now:         time.Now,
	}
}

// SetNow replaces the clock for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// Detect returns in_progress missions whose stream has been silent for
// longer than activityThreshold, most stale first. Each candidate carries
// the mission's latest event, its latest checkpoint if one exists, and a
// confidence score.
func (e *Engine) Detect(ctx context.Context, activityThreshold time.Duration) ([]*types.RecoveryCandidate, error) {
	if activityThreshold <= 0 {
		return nil, types.Validationf("activity_threshold must be positive")
	}
	missions, err := e.fleet.ListMissions(ctx, fleet.MissionFilter{Status: types.MissionInProgress})
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	candidates := make([]*types.RecoveryCandidate, 0)
	for _, m := range missions {
		tail, err := e.log.StreamTail(ctx, types.StreamMission, m.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(tail) == 0 {
			continue
		}
		latest := tail[0]
		age := now.Sub(latest.OccurredAt)
		if age <= activityThreshold {
			continue
		}

		cand := &types.RecoveryCandidate{
			MissionID:       m.ID,
			MissionTitle:    m.Title,
			LatestEventID:   latest.EventID,
			LatestEventType: latest.EventType,
			LatestEventAt:   latest.OccurredAt,
			AgeSeconds:      int64(age.Seconds()),
		}
		if cp, err := e.checkpoints.GetLatest(ctx, m.ID); err == nil {
			cand.LatestCheckpointID = &cp.ID
		} else if !types.IsKind(err, types.KindNotFound) {
			return nil, err
		}
		cand.Confidence, err = e.score(ctx, m.ID, age, activityThreshold, now)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AgeSeconds > candidates[j].AgeSeconds
	})
	return candidates, nil
}

// score rates how certainly a quiet mission is abandoned: 0.5 at the
// threshold rising to 0.9 at four thresholds of silence, plus 0.1 when
// every assigned specialist is itself stale against the same threshold.
func (e *Engine) score(ctx context.Context, missionID string, age, threshold time.Duration, now time.Time) (float64, error) {
	over := (age - threshold).Seconds() / (3 * threshold.Seconds())
	confidence := 0.5 + 0.4*math.Min(1, over)

	sorties, err := e.fleet.ListSorties(ctx, fleet.SortieFilter{MissionID: missionID})
	if err != nil {
		return 0, err
	}
	assignees := make(map[string]bool)
	for _, s := range sorties {
		if s.AssignedTo != nil {
			assignees[*s.AssignedTo] = true
		}
	}
	if len(assignees) > 0 {
		allStale := true
		for id := range assignees {
			sp, err := e.fleet.GetSpecialist(ctx, id)
			if types.IsKind(err, types.KindNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			if !sp.Stale(now, threshold) {
				allStale = false
				break
			}
		}
		if allStale {
			confidence += 0.1
		}
	}
	return math.Min(confidence, 1), nil
}
