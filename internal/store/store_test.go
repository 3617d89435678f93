package store

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"pirhub/api/internal/docstore"
)

func newTestStore() *Store {
	return New(docstore.NewMemoryStore())
}

func seedPIR(t *testing.T, s *Store) PIR {
	t.Helper()
	pir, err := s.CreatePIR(context.Background(), PIR{
		Title:           "Widget compliance data",
		Description:     "Full material disclosure for the widget line",
		ProductName:     "Widget X1",
		ProductCategory: "Components",
		RequesterID:     "user-req",
		RequesterName:   "Avery",
	})
	if err != nil {
		t.Fatalf("seed pir: %v", err)
	}
	return pir
}

func TestCreatePIRDefaults(t *testing.T) {
	s := newTestStore()
	pir := seedPIR(t, s)
	if pir.Status != StatusDraft {
		t.Fatalf("new pir should be DRAFT, got %s", pir.Status)
	}
	if pir.ID == "" || pir.CreatedAt.IsZero() || pir.UpdatedAt.IsZero() {
		t.Fatalf("id and timestamps should be store-assigned: %+v", pir)
	}
	if pir.Tags == nil || pir.QuestionIDs == nil || pir.AttachmentIDs == nil {
		t.Fatal("collections should be initialized empty, not nil")
	}
}

func TestQuestionLinkageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pir := seedPIR(t, s)

	question, err := s.CreateQuestion(ctx, Question{
		PIRID:     pir.ID,
		Text:      "What is the RoHS status?",
		Category:  "Compliance",
		Required:  true,
		CreatedBy: "user-req",
	})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}

	// A retried linkage with the same id must not produce a duplicate.
	if err := s.UpdatePIR(ctx, pir.ID, PIRPatch{AddQuestionIDs: []string{question.ID}}); err != nil {
		t.Fatalf("relink question: %v", err)
	}

	got, err := s.GetPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("get pir: %v", err)
	}
	if len(got.QuestionIDs) != 1 || got.QuestionIDs[0] != question.ID {
		t.Fatalf("expected exactly one linked question, got %v", got.QuestionIDs)
	}
}

func TestQuestionDualResolutionAgrees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pir := seedPIR(t, s)

	want := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		question, err := s.CreateQuestion(ctx, Question{
			PIRID:     pir.ID,
			Text:      fmt.Sprintf("Question %d", i),
			Category:  "General",
			CreatedBy: "user-req",
		})
		if err != nil {
			t.Fatalf("create question %d: %v", i, err)
		}
		want = append(want, question.ID)
	}

	byQuery, err := s.QuestionsByPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("questions by pir: %v", err)
	}

	updated, err := s.GetPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("get pir: %v", err)
	}
	byIDs, err := s.QuestionsByIDs(ctx, updated.QuestionIDs)
	if err != nil {
		t.Fatalf("questions by ids: %v", err)
	}

	querySet := idSet(byQuery)
	idsSet := idSet(byIDs)
	if len(querySet) != len(want) || len(idsSet) != len(want) {
		t.Fatalf("expected %d questions, query=%d ids=%d", len(want), len(querySet), len(idsSet))
	}
	for _, id := range want {
		if _, ok := querySet[id]; !ok {
			t.Fatalf("query path missing %s", id)
		}
		if _, ok := idsSet[id]; !ok {
			t.Fatalf("id-list path missing %s", id)
		}
	}
}

func idSet(questions []Question) map[string]struct{} {
	set := make(map[string]struct{}, len(questions))
	for _, question := range questions {
		set[question.ID] = struct{}{}
	}
	return set
}

func TestQuestionsByIDsFiltersDangling(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pir := seedPIR(t, s)
	question, err := s.CreateQuestion(ctx, Question{PIRID: pir.ID, Text: "Q", Category: "General", CreatedBy: "u"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}

	resolved, err := s.QuestionsByIDs(ctx, []string{question.ID, "dangling-id"})
	if err != nil {
		t.Fatalf("questions by ids: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != question.ID {
		t.Fatalf("dangling id should be filtered, got %v", resolved)
	}
}

func TestAttachmentDeleteUnlinksParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pir := seedPIR(t, s)

	attachment, err := s.CreateAttachment(ctx, Attachment{
		ParentID:    pir.ID,
		ParentType:  ParentPIR,
		FileName:    "datasheet.pdf",
		FileType:    "application/pdf",
		FileSize:    2048,
		UploadedBy:  "user-req",
		DownloadURL: "mem://attachments/datasheet.pdf",
	})
	if err != nil {
		t.Fatalf("create attachment: %v", err)
	}

	linked, err := s.GetPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("get pir: %v", err)
	}
	if len(linked.AttachmentIDs) != 1 || linked.AttachmentIDs[0] != attachment.ID {
		t.Fatalf("attachment not linked: %v", linked.AttachmentIDs)
	}

	if _, err := s.DeleteAttachment(ctx, attachment.ID); err != nil {
		t.Fatalf("delete attachment: %v", err)
	}
	if _, err := s.GetAttachment(ctx, attachment.ID); err != ErrNotFound {
		t.Fatalf("attachment should be gone, got %v", err)
	}
	// Stale id lists resolve to nothing rather than erroring.
	resolved, err := s.AttachmentsByIDs(ctx, []string{attachment.ID})
	if err != nil {
		t.Fatalf("attachments by ids: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("dangling attachment id resolved: %+v", resolved)
	}
	unlinked, err := s.GetPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("get pir: %v", err)
	}
	if len(unlinked.AttachmentIDs) != 0 {
		t.Fatalf("attachment id should be removed from parent, got %v", unlinked.AttachmentIDs)
	}
}

func TestEnsureTagIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	first, created, err := s.EnsureTag(ctx, "Urgent", "priority", "#d33")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}

	second, created, err := s.EnsureTag(ctx, "URGENT", "", "")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created {
		t.Fatal("exact case-insensitive duplicate should not create a tag")
	}
	if second.ID != first.ID || second.Name != "Urgent" {
		t.Fatalf("expected original tag back, got %+v", second)
	}

	tags, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("tag collection gained records: %d", len(tags))
	}
}

func TestListPIRsFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	seedPIR(t, s)
	second := seedPIR(t, s)
	requested := StatusRequested
	if err := s.UpdatePIR(ctx, second.ID, PIRPatch{Status: &requested}); err != nil {
		t.Fatalf("update pir: %v", err)
	}

	drafts, err := s.ListPIRs(ctx, StatusDraft)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}
	all, err := s.ListPIRs(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 pirs, got %d", len(all))
	}
}

func TestAnswersDenormalizePIR(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pir := seedPIR(t, s)
	question, err := s.CreateQuestion(ctx, Question{PIRID: pir.ID, Text: "Q", Category: "General", CreatedBy: "u"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := s.CreateAnswer(ctx, Answer{
			QuestionID:    question.ID,
			PIRID:         pir.ID,
			Text:          fmt.Sprintf("Answer %d", i),
			ResponderID:   "user-resp",
			ResponderName: "Robin",
		})
		if err != nil {
			t.Fatalf("create answer %d: %v", i, err)
		}
	}

	byQuestion, err := s.AnswersByQuestion(ctx, question.ID)
	if err != nil {
		t.Fatalf("answers by question: %v", err)
	}
	byPIR, err := s.AnswersByPIR(ctx, pir.ID)
	if err != nil {
		t.Fatalf("answers by pir: %v", err)
	}
	if len(byQuestion) != 2 || len(byPIR) != 2 {
		t.Fatalf("expected 2 answers on both paths, got %d and %d", len(byQuestion), len(byPIR))
	}
}

func TestRefreshSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	user, err := s.CreateUser(ctx, User{DisplayName: "Avery", Email: "avery@example.com", Role: RoleRequester})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := s.SaveRefreshSession(ctx, "hash-1", user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save session: %v", err)
	}
	got, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("lookup session: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}

	if err := s.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestExpiredRefreshSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	user, err := s.CreateUser(ctx, User{DisplayName: "Avery", Email: "avery@example.com", Role: RoleRequester})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.SaveRefreshSession(ctx, "hash-2", user.ID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash-2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestUsersByRoleSorted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	names := []string{"Zoe", "Avery", "Morgan"}
	for _, name := range names {
		if _, err := s.CreateUser(ctx, User{DisplayName: name, Email: name + "@example.com", Role: RoleAdmin}); err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
	}
	if _, err := s.CreateUser(ctx, User{DisplayName: "Robin", Email: "robin@example.com", Role: RoleResponder}); err != nil {
		t.Fatalf("create responder: %v", err)
	}

	admins, err := s.UsersByRole(ctx, RoleAdmin)
	if err != nil {
		t.Fatalf("users by role: %v", err)
	}
	if len(admins) != 3 {
		t.Fatalf("expected 3 admins, got %d", len(admins))
	}
	if !sort.SliceIsSorted(admins, func(i, j int) bool { return admins[i].DisplayName < admins[j].DisplayName }) {
		t.Fatal("admins should be sorted by display name")
	}
}
