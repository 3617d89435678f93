// Package rbac resolves which lifecycle actions a user may currently take
// on a PIR. It is a pure function of the user and the PIR document and is
// the single authority consulted by the lifecycle engine and the API layer.
package rbac

import "pirhub/api/internal/store"

type Action string

const (
	ActionEdit         Action = "edit"
	ActionRequest      Action = "request"
	ActionSubmit       Action = "submit"
	ActionReview       Action = "review"
	ActionAcceptReject Action = "accept_reject"
)

// ResolveActions returns the set of actions the user may take on the PIR in
// its current state.
func ResolveActions(user store.User, pir store.PIR) []Action {
	actions := make([]Action, 0, 5)
	for _, action := range []Action{ActionEdit, ActionRequest, ActionSubmit, ActionReview, ActionAcceptReject} {
		if Can(user, pir, action) {
			actions = append(actions, action)
		}
	}
	return actions
}

// Can reports whether the user may take the action on the PIR right now.
func Can(user store.User, pir store.PIR, action Action) bool {
	isAdmin := user.Role == store.RoleAdmin
	isRequester := user.ID != "" && user.ID == pir.RequesterID

	switch action {
	case ActionEdit:
		return isAdmin || (isRequester && pir.Status == store.StatusDraft)
	case ActionRequest:
		return pir.Status == store.StatusDraft && (isAdmin || isRequester)
	case ActionSubmit:
		return pir.Status == store.StatusRequested &&
			(isAdmin || (user.ID != "" && user.ID == pir.AssignedResponderID))
	case ActionReview:
		return pir.Status == store.StatusSubmitted && (isAdmin || user.Role == store.RoleReviewer)
	case ActionAcceptReject:
		return pir.Status == store.StatusReviewed &&
			(isAdmin || (user.ID != "" && user.ID == pir.ReviewerID))
	}
	return false
}

// Normalize maps unknown role strings to the least-privileged role.
func Normalize(role string) store.Role {
	if store.ValidRole(store.Role(role)) {
		return store.Role(role)
	}
	return store.RoleRequester
}
