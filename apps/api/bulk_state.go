package main

import "time"

const bannerLifetime = 10 * time.Second

type bulkPhase string

const (
	bulkPhaseIdle       bulkPhase = "idle"
	bulkPhaseConfirming bulkPhase = "confirming"
	bulkPhaseRunning    bulkPhase = "running"
	bulkPhaseCompleted  bulkPhase = "completed"
)

type bannerKind string

const (
	bannerInfo  bannerKind = "info"
	bannerError bannerKind = "error"
)

type banner struct {
	Kind      bannerKind `json:"kind"`
	Message   string     `json:"message"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// bulkViewState is everything the dashboard renders for one administrator's bulk workflow.
type bulkViewState struct {
	Phase      bulkPhase            `json:"phase"`
	Selection  []int                `json:"selection"`
	Action     bulkAction           `json:"action,omitempty"`
	Parameter  *bulkParameter       `json:"parameter,omitempty"`
	Pending    *bulkPlan            `json:"pending,omitempty"`
	Progress   *bulkProgress        `json:"progress,omitempty"`
	LastResult *BulkOperationResult `json:"last_result,omitempty"`
	Banner     *banner              `json:"banner,omitempty"`
}

type bulkStateEventKind string

const (
	bulkStatePreviewed  bulkStateEventKind = "previewed"
	bulkStateNoChanges  bulkStateEventKind = "no_changes"
	bulkStateAuthFailed bulkStateEventKind = "auth_failed"
	bulkStateProgressed bulkStateEventKind = "progressed"
	bulkStateCompleted  bulkStateEventKind = "completed"
	bulkStateFailed     bulkStateEventKind = "failed"
	bulkStateCancelled  bulkStateEventKind = "cancelled"
	bulkStateDismissed  bulkStateEventKind = "dismissed"
)

type bulkStateEvent struct {
	Kind     bulkStateEventKind
	At       time.Time
	Plan     *bulkPlan
	Progress *bulkProgress
	Result   *BulkOperationResult
	Message  string
}

func newIdleBulkState() bulkViewState {
	return bulkViewState{Phase: bulkPhaseIdle, Selection: []int{}}
}

func newBanner(kind bannerKind, message string, at time.Time) *banner {
	return &banner{Kind: kind, Message: message, ExpiresAt: at.Add(bannerLifetime)}
}

// reduceBulkState applies one event and returns the next state. state is not modified.
func reduceBulkState(state bulkViewState, event bulkStateEvent) bulkViewState {
	next := state
	switch event.Kind {
	case bulkStatePreviewed:
		plan := event.Plan
		param := plan.Request.Parameter
		next.Phase = bulkPhaseConfirming
		next.Selection = append([]int(nil), plan.Selection...)
		next.Action = plan.Request.Action
		next.Parameter = &param
		next.Pending = plan
		next.Progress = nil
		next.Banner = nil

	case bulkStateNoChanges:
		next = newIdleBulkState()
		next.LastResult = event.Result
		next.Banner = newBanner(bannerInfo, event.Result.Message, event.At)

	case bulkStateAuthFailed:
		// The confirmation stays open so the password can be re-entered.
		next.Phase = bulkPhaseConfirming
		next.Progress = nil
		next.Banner = newBanner(bannerError, event.Message, event.At)

	case bulkStateProgressed:
		progress := *event.Progress
		next.Phase = bulkPhaseRunning
		next.Progress = &progress

	case bulkStateCompleted:
		next = newIdleBulkState()
		next.Phase = bulkPhaseCompleted
		next.LastResult = event.Result
		next.Banner = newBanner(bannerInfo, event.Result.Message, event.At)

	case bulkStateFailed:
		next = newIdleBulkState()
		next.LastResult = state.LastResult
		next.Banner = newBanner(bannerError, event.Message, event.At)

	case bulkStateCancelled:
		next.Phase = bulkPhaseIdle
		next.Action = ""
		next.Parameter = nil
		next.Pending = nil
		next.Progress = nil

	case bulkStateDismissed:
		next.LastResult = nil
		next.Banner = nil
		if next.Phase == bulkPhaseCompleted {
			next.Phase = bulkPhaseIdle
		}
	}
	return next
}

// visibleAt hides a banner whose lifetime has passed.
func (s bulkViewState) visibleAt(now time.Time) bulkViewState {
	if s.Banner != nil && !now.Before(s.Banner.ExpiresAt) {
		s.Banner = nil
	}
	if s.Selection == nil {
		s.Selection = []int{}
	}
	return s
}
