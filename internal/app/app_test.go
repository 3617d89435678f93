package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"pirhub/api/internal/blob"
	"pirhub/api/internal/config"
	"pirhub/api/internal/docstore"
	"pirhub/api/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
}

type captureSink struct {
	mu          sync.Mutex
	transitions []TransitionEvent
	children    []ChildEvent
}

func (c *captureSink) TransitionApplied(ev TransitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, ev)
}

func (c *captureSink) ChildCreated(ev ChildEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, ev)
}

func (c *captureSink) lastTransition(t *testing.T) TransitionEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transitions) == 0 {
		t.Fatal("no transition event captured")
	}
	return c.transitions[len(c.transitions)-1]
}

type testEnv struct {
	service *Service
	store   *store.Store
	blobs   *blob.MemoryStore
	sink    *captureSink

	admin     store.User
	requester store.User
	responder store.User
	reviewer  store.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.New(docstore.NewMemoryStore())
	blobs := blob.NewMemoryStore()
	sink := &captureSink{}
	env := &testEnv{
		service: New(testConfig(), st, st, blobs, sink),
		store:   st,
		blobs:   blobs,
		sink:    sink,
	}

	ctx := context.Background()
	seed := func(name, email string, role store.Role) store.User {
		user, err := st.CreateUser(ctx, store.User{DisplayName: name, Email: email, Role: role})
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return user
	}
	env.admin = seed("Alex Admin", "alex@example.com", store.RoleAdmin)
	env.requester = seed("Riley Requester", "riley@example.com", store.RoleRequester)
	env.responder = seed("Robin Responder", "robin@example.com", store.RoleResponder)
	env.reviewer = seed("Rowan Reviewer", "rowan@example.com", store.RoleReviewer)
	return env
}

func (e *testEnv) sessionFor(user store.User) Session {
	return Session{UserID: user.ID, UserName: user.DisplayName, Role: string(user.Role)}
}

func (e *testEnv) createPIR(t *testing.T) store.PIR {
	t.Helper()
	pir, err := e.service.CreatePIR(context.Background(), e.sessionFor(e.requester), CreatePIRInput{
		Title:           "Widget compliance data",
		Description:     "All compliance documents for the Widget X1",
		ProductName:     "Widget X1",
		ProductCategory: "Hardware",
	})
	if err != nil {
		t.Fatalf("create pir: %v", err)
	}
	return pir
}

// forceStatus moves the stored PIR directly to the status under test,
// bypassing the engine, together with the assignments that state implies.
func (e *testEnv) forceStatus(t *testing.T, pirID string, status store.PIRStatus) {
	t.Helper()
	patch := store.PIRPatch{Status: &status}
	switch status {
	case store.StatusRequested, store.StatusSubmitted:
		patch.AssignedResponderID = &e.responder.ID
		patch.AssignedResponderName = &e.responder.DisplayName
	case store.StatusReviewed, store.StatusAccepted, store.StatusRejected:
		patch.AssignedResponderID = &e.responder.ID
		patch.AssignedResponderName = &e.responder.DisplayName
		patch.ReviewerID = &e.reviewer.ID
		patch.ReviewerName = &e.reviewer.DisplayName
	}
	if err := e.store.UpdatePIR(context.Background(), pirID, patch); err != nil {
		t.Fatalf("force status %s: %v", status, err)
	}
}

func wantDomainError(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError, got %T: %v", err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
}
