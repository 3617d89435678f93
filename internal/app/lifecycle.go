package app

import (
	"context"
	"strings"
	"time"

	"pirhub/api/internal/obs"
	"pirhub/api/internal/rbac"
	"pirhub/api/internal/store"
)

// transitions maps each allowed (from, to) pair to the rbac action whose
// predicate gates it.
var transitions = map[store.PIRStatus]map[store.PIRStatus]rbac.Action{
	store.StatusDraft: {
		store.StatusRequested: rbac.ActionRequest,
	},
	store.StatusRequested: {
		store.StatusSubmitted: rbac.ActionSubmit,
	},
	store.StatusSubmitted: {
		store.StatusReviewed: rbac.ActionReview,
	},
	store.StatusReviewed: {
		store.StatusAccepted: rbac.ActionAcceptReject,
		store.StatusRejected: rbac.ActionAcceptReject,
	},
}

type TransitionInput struct {
	Target       store.PIRStatus
	ReviewerID   string
	ReviewerName string
	ReviewNotes  string
}

// ApplyTransition moves a PIR to the target status. Order matters: the
// self-transition check runs first, then the table lookup, then the actor
// permission check, so an out-of-table pair reports InvalidTransition even
// when the actor would also lack permission. The status write and its
// lifecycle timestamp go to the store as a single patch; notification
// fan-out happens after the write and never affects the result.
func (s *Service) ApplyTransition(ctx context.Context, session Session, pirID string, input TransitionInput) (store.PIR, error) {
	pir, err := s.GetPIR(ctx, pirID)
	if err != nil {
		return store.PIR{}, err
	}

	target := input.Target
	if !validStatus(target) {
		return store.PIR{}, validationError("unknown target status")
	}
	if target == pir.Status {
		return store.PIR{}, invalidTransition(string(pir.Status), string(target))
	}
	action, ok := transitions[pir.Status][target]
	if !ok {
		return store.PIR{}, invalidTransition(string(pir.Status), string(target))
	}
	if !rbac.Can(s.actor(session), pir, action) {
		return store.PIR{}, permissionDenied("not allowed to perform this transition")
	}

	now := time.Now().UTC()
	patch := store.PIRPatch{Status: &target}

	switch target {
	case store.StatusSubmitted:
		patch.SubmittedAt = &now
	case store.StatusReviewed:
		// The one transition that establishes a role assignment
		// rather than checking an existing one.
		if strings.TrimSpace(input.ReviewerID) == "" || strings.TrimSpace(input.ReviewerName) == "" {
			return store.PIR{}, validationError("reviewerId and reviewerName are required to enter REVIEWED")
		}
		patch.ReviewedAt = &now
		patch.ReviewerID = &input.ReviewerID
		patch.ReviewerName = &input.ReviewerName
	case store.StatusAccepted:
		patch.AcceptedAt = &now
	case store.StatusRejected:
		patch.RejectedAt = &now
	}
	if input.ReviewNotes != "" {
		patch.ReviewNotes = &input.ReviewNotes
	}

	if err := s.store.UpdatePIR(ctx, pirID, patch); err != nil {
		return store.PIR{}, err
	}
	updated, err := s.GetPIR(ctx, pirID)
	if err != nil {
		return store.PIR{}, err
	}

	obs.ObserveTransition(string(pir.Status), string(target))
	s.events.TransitionApplied(TransitionEvent{
		PIR:       updated,
		From:      pir.Status,
		To:        target,
		ActorName: session.UserName,
	})
	return updated, nil
}
