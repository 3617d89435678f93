package rbac

import (
	"testing"

	"pirhub/api/internal/store"
)

func TestResolveActions(t *testing.T) {
	admin := store.User{ID: "adm", Role: store.RoleAdmin}
	requester := store.User{ID: "req", Role: store.RoleRequester}
	responder := store.User{ID: "resp", Role: store.RoleResponder}
	reviewer := store.User{ID: "rev", Role: store.RoleReviewer}
	otherReviewer := store.User{ID: "rev2", Role: store.RoleReviewer}

	pir := func(status store.PIRStatus) store.PIR {
		return store.PIR{
			Status:              status,
			RequesterID:         "req",
			AssignedResponderID: "resp",
			ReviewerID:          "rev",
		}
	}

	tests := []struct {
		name   string
		user   store.User
		pir    store.PIR
		action Action
		want   bool
	}{
		{"requester edits own draft", requester, pir(store.StatusDraft), ActionEdit, true},
		{"requester cannot edit after request", requester, pir(store.StatusRequested), ActionEdit, false},
		{"admin edits any state", admin, pir(store.StatusReviewed), ActionEdit, true},
		{"requester requests draft", requester, pir(store.StatusDraft), ActionRequest, true},
		{"responder cannot request", responder, pir(store.StatusDraft), ActionRequest, false},
		{"request only from draft", requester, pir(store.StatusRequested), ActionRequest, false},
		{"assigned responder submits", responder, pir(store.StatusRequested), ActionSubmit, true},
		{"requester cannot submit", requester, pir(store.StatusRequested), ActionSubmit, false},
		{"submit only from requested", responder, pir(store.StatusDraft), ActionSubmit, false},
		{"any reviewer reviews submitted", otherReviewer, pir(store.StatusSubmitted), ActionReview, true},
		{"responder cannot review", responder, pir(store.StatusSubmitted), ActionReview, false},
		{"assigned reviewer accepts", reviewer, pir(store.StatusReviewed), ActionAcceptReject, true},
		{"other reviewer cannot accept", otherReviewer, pir(store.StatusReviewed), ActionAcceptReject, false},
		{"admin accepts", admin, pir(store.StatusReviewed), ActionAcceptReject, true},
		{"accept only from reviewed", reviewer, pir(store.StatusSubmitted), ActionAcceptReject, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.user, tc.pir, tc.action); got != tc.want {
				t.Fatalf("Can(%s, %s, %s) = %v, want %v", tc.user.ID, tc.pir.Status, tc.action, got, tc.want)
			}
		})
	}
}

func TestResolveActionsSetForAdmin(t *testing.T) {
	admin := store.User{ID: "adm", Role: store.RoleAdmin}
	actions := ResolveActions(admin, store.PIR{Status: store.StatusDraft, RequesterID: "req"})
	want := map[Action]struct{}{ActionEdit: {}, ActionRequest: {}}
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %v", len(want), actions)
	}
	for _, action := range actions {
		if _, ok := want[action]; !ok {
			t.Fatalf("unexpected action %s", action)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != store.RoleAdmin {
		t.Fatal("admin should normalize to admin")
	}
	if Normalize("superuser") != store.RoleRequester {
		t.Fatal("unknown roles should normalize to requester")
	}
}
