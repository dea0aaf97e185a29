package queue

import (
	"log/slog"

	"github.com/nexamanager/mailsync/internal/remote"
)

// Resolution names how a conflict between a queued operation and newer
// server state was settled.
type Resolution string

const (
	ResolutionServerWins Resolution = "server_wins"
	ResolutionClientWins Resolution = "client_wins"
	ResolutionMerged     Resolution = "merged"
	ResolutionSkipped    Resolution = "skipped"
	ResolutionNeedsUser  Resolution = "needs_user"
)

// Outcome is the Resolver's verdict for one operation. When Proceed is true,
// Applied carries the payload to execute, possibly reduced by a merge.
type Outcome struct {
	Proceed    bool
	Applied    Payload
	Resolution Resolution
}

// strategy is the per-kind conflict policy.
type strategy int

const (
	strategyServerWins strategy = iota
	strategyClientWins
	strategyMerge
	strategyPromptUser
)

// strategyFor returns the conflict strategy for an operation kind.
// The server-observed read state is authoritative; flag and structural
// changes keep the local intent; label edits merge against the server
// snapshot; content edits are never guessed at.
func strategyFor(kind Kind) strategy {
	switch kind {
	case KindMarkRead:
		return strategyServerWins
	case KindMarkStarred, KindMove, KindDelete:
		return strategyClientWins
	case KindAddLabel, KindRemoveLabel:
		return strategyMerge
	case KindSend, KindCreateDraft, KindUpdateDraft:
		return strategyPromptUser
	default:
		return strategyServerWins
	}
}

// Resolver decides whether a queued operation conflicts with newer server
// state and how to resolve it.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{logger: logger}
}

// DetectConflict reports whether any targeted server record changed after
// the operation was enqueued. Records absent from snapshots (deleted
// server-side) do not count as conflicts; replay surfaces those directly.
func (r *Resolver) DetectConflict(op *Operation, snapshots map[string]remote.Record) bool {
	for _, id := range op.RecordIDs() {
		snap, ok := snapshots[id]
		if !ok {
			continue
		}

		if snap.UpdatedAt.UnixNano() > op.EnqueuedAt {
			return true
		}
	}

	return false
}

// Resolve applies the per-kind strategy to a conflicted operation. The
// returned Outcome tells the caller whether to execute (and with which
// payload), skip, or park the operation for user action.
func (r *Resolver) Resolve(op *Operation, snapshots map[string]remote.Record) Outcome {
	var out Outcome

	switch strategyFor(op.Kind) {
	case strategyClientWins:
		out = Outcome{Proceed: true, Applied: op.Payload, Resolution: ResolutionClientWins}
	case strategyMerge:
		out = r.resolveMerge(op, snapshots)
	case strategyPromptUser:
		out = Outcome{Proceed: false, Resolution: ResolutionNeedsUser}
	default:
		out = Outcome{Proceed: false, Resolution: ResolutionServerWins}
	}

	r.logger.Debug("conflict resolved",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("resolution", string(out.Resolution)),
		slog.Bool("proceed", out.Proceed),
	)

	return out
}

// resolveMerge reduces a label operation to the subset that still changes
// server state. Adding keeps labels missing from at least one snapshot;
// removing keeps labels still present on at least one. An empty subset
// means the server already converged and the operation is skipped.
func (r *Resolver) resolveMerge(op *Operation, snapshots map[string]remote.Record) Outcome {
	switch p := op.Payload.(type) {
	case AddLabelPayload:
		subset := filterLabels(p.Labels, p.IDs, snapshots, func(rec remote.Record, label string) bool {
			return !rec.HasLabel(label)
		})
		if len(subset) == 0 {
			return Outcome{Proceed: false, Resolution: ResolutionSkipped}
		}

		return Outcome{
			Proceed:    true,
			Applied:    AddLabelPayload{IDs: p.IDs, Labels: subset},
			Resolution: ResolutionMerged,
		}
	case RemoveLabelPayload:
		subset := filterLabels(p.Labels, p.IDs, snapshots, func(rec remote.Record, label string) bool {
			return rec.HasLabel(label)
		})
		if len(subset) == 0 {
			return Outcome{Proceed: false, Resolution: ResolutionSkipped}
		}

		return Outcome{
			Proceed:    true,
			Applied:    RemoveLabelPayload{IDs: p.IDs, Labels: subset},
			Resolution: ResolutionMerged,
		}
	default:
		return Outcome{Proceed: false, Resolution: ResolutionServerWins}
	}
}

// filterLabels keeps labels for which keep returns true against at least one
// targeted snapshot. Records missing from snapshots keep every label, since
// their server state is unknown.
func filterLabels(labels, ids []string, snapshots map[string]remote.Record, keep func(remote.Record, string) bool) []string {
	var subset []string

	for _, label := range labels {
		for _, id := range ids {
			snap, ok := snapshots[id]
			if !ok || keep(snap, label) {
				subset = append(subset, label)

				break
			}
		}
	}

	return subset
}
