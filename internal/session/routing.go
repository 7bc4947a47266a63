package session

import "github.com/stemsi/exstem-session/internal/model"

// RouteKind names the destination the host should navigate to when the
// engine reaches a terminal state.
type RouteKind string

const (
	// RouteResults is the per-attempt results view.
	RouteResults RouteKind = "results"
	// RouteOverview is the multi-category overview, carrying a checkpoint.
	RouteOverview RouteKind = "overview"
	// RouteDashboard is the top-level dashboard.
	RouteDashboard RouteKind = "dashboard"
)

// Route is the engine's terminal navigation decision.
type Route struct {
	Kind       RouteKind
	Checkpoint *model.Checkpoint
}

// computeRoute decides where the host goes after the attempt finalizes
// (completed=true) or aborts (completed=false). Multi-category runs return
// to the overview with a carried-forward checkpoint: completed categories
// preserved, the current one added on success or dropped from the prepared
// set on abort. Single-category runs go to results or the dashboard.
func computeRoute(meta model.TestMeta, currentCategoryID string, completed bool) Route {
	if meta.Mode != model.ModeMulti {
		if completed {
			return Route{Kind: RouteResults}
		}
		return Route{Kind: RouteDashboard}
	}

	prepared := make([]string, 0, len(meta.PreparedCategories))
	for _, id := range meta.PreparedCategories {
		if id != currentCategoryID {
			prepared = append(prepared, id)
		}
	}

	completedIDs := append([]string(nil), meta.CompletedCategoryIDs...)
	if completed {
		completedIDs = append(completedIDs, currentCategoryID)
	}

	if completed && len(prepared) == 0 {
		return Route{Kind: RouteResults}
	}

	return Route{
		Kind: RouteOverview,
		Checkpoint: &model.Checkpoint{
			RecordID:             meta.RecordID,
			CompletedCategoryIDs: completedIDs,
			PreparedCategories:   prepared,
			CategoryNames:        meta.CategoryNames,
		},
	}
}
