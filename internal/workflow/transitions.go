package workflow

import "github.com/garnizeh/fieldops/pkg/models"

// transitionMap lists, for each target status, the statuses it may be
// entered from. Draft has no way in; terminal statuses have no way out.
var transitionMap = map[models.Status][]models.Status{
	models.StatusScheduled:  {models.StatusDraft},
	models.StatusDispatched: {models.StatusScheduled},
	models.StatusOnSite:     {models.StatusScheduled, models.StatusDispatched},
	models.StatusInProgress: {models.StatusOnSite},
	models.StatusCompleted:  {models.StatusInProgress},
	models.StatusCancelled: {
		models.StatusDraft, models.StatusScheduled, models.StatusDispatched,
		models.StatusOnSite, models.StatusInProgress, models.StatusRequiresFollowup,
	},
	models.StatusRequiresFollowup: {
		models.StatusDraft, models.StatusScheduled, models.StatusDispatched,
		models.StatusOnSite, models.StatusInProgress,
	},
}

// ValidTransition reports whether a work order may move from one status to
// another.
func ValidTransition(from, to models.Status) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s in lifecycle order.
func Next(s models.Status) []models.Status {
	var out []models.Status
	for _, to := range models.Statuses {
		if ValidTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}
