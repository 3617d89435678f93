// Package store is the typed persistence layer. It maps the domain
// entities onto the keyed document store and owns the parent/child
// back-reference bookkeeping for questions and attachments.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"pirhub/api/internal/docstore"
)

const (
	collectionPIRs        = "pirs"
	collectionQuestions   = "questions"
	collectionAnswers     = "answers"
	collectionAttachments = "attachments"
	collectionTags        = "tags"
	collectionUsers       = "users"
	collectionSessions    = "refresh_sessions"
)

// ErrNotFound is returned when a referenced entity id is absent.
var ErrNotFound = docstore.ErrNotFound

type Store struct {
	docs docstore.Store
}

func New(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// PIRPatch enumerates the PIR fields a partial update may touch. Anything
// not listed here cannot be patched.
type PIRPatch struct {
	Title           *string
	Description     *string
	ProductName     *string
	ProductCategory *string
	Comments        *string
	ReviewNotes     *string

	Status                *PIRStatus
	AssignedResponderID   *string
	AssignedResponderName *string
	ReviewerID            *string
	ReviewerName          *string

	SubmittedAt *time.Time
	ReviewedAt  *time.Time
	AcceptedAt  *time.Time
	RejectedAt  *time.Time

	AddTags             []string
	AddQuestionIDs      []string
	AddAttachmentIDs    []string
	RemoveAttachmentIDs []string
}

func (p PIRPatch) toDocPatch() docstore.Patch {
	set := make(map[string]any)
	setString := func(field string, value *string) {
		if value != nil {
			set[field] = *value
		}
	}
	setString("title", p.Title)
	setString("description", p.Description)
	setString("productName", p.ProductName)
	setString("productCategory", p.ProductCategory)
	setString("comments", p.Comments)
	setString("reviewNotes", p.ReviewNotes)
	setString("assignedResponderId", p.AssignedResponderID)
	setString("assignedResponderName", p.AssignedResponderName)
	setString("reviewerId", p.ReviewerID)
	setString("reviewerName", p.ReviewerName)
	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	setTime := func(field string, value *time.Time) {
		if value != nil {
			set[field] = value.UTC().Format(time.RFC3339Nano)
		}
	}
	setTime("submittedAt", p.SubmittedAt)
	setTime("reviewedAt", p.ReviewedAt)
	setTime("acceptedAt", p.AcceptedAt)
	setTime("rejectedAt", p.RejectedAt)

	union := make(map[string][]string)
	if len(p.AddTags) > 0 {
		union["tags"] = p.AddTags
	}
	if len(p.AddQuestionIDs) > 0 {
		union["questionIds"] = p.AddQuestionIDs
	}
	if len(p.AddAttachmentIDs) > 0 {
		union["attachmentIds"] = p.AddAttachmentIDs
	}
	remove := make(map[string][]string)
	if len(p.RemoveAttachmentIDs) > 0 {
		remove["attachmentIds"] = p.RemoveAttachmentIDs
	}
	return docstore.Patch{Set: set, ArrayUnion: union, ArrayRemove: remove}
}

func (s *Store) CreatePIR(ctx context.Context, pir PIR) (PIR, error) {
	if pir.Status == "" {
		pir.Status = StatusDraft
	}
	if pir.Tags == nil {
		pir.Tags = []string{}
	}
	if pir.QuestionIDs == nil {
		pir.QuestionIDs = []string{}
	}
	if pir.AttachmentIDs == nil {
		pir.AttachmentIDs = []string{}
	}
	id, err := s.create(ctx, collectionPIRs, pir)
	if err != nil {
		return PIR{}, fmt.Errorf("create pir: %w", err)
	}
	return s.GetPIR(ctx, id)
}

func (s *Store) GetPIR(ctx context.Context, id string) (PIR, error) {
	rec, err := s.docs.Get(ctx, collectionPIRs, id)
	if err != nil {
		return PIR{}, err
	}
	return decodePIR(rec)
}

// ListPIRs returns all PIRs, optionally filtered by status, newest activity
// first.
func (s *Store) ListPIRs(ctx context.Context, status PIRStatus) ([]PIR, error) {
	var filters []docstore.Filter
	if status != "" {
		filters = append(filters, docstore.Filter{Field: "status", Value: string(status)})
	}
	records, err := s.docs.Query(ctx, collectionPIRs, filters, &docstore.Order{Field: "updatedAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("list pirs: %w", err)
	}
	pirs := make([]PIR, 0, len(records))
	for _, rec := range records {
		pir, err := decodePIR(rec)
		if err != nil {
			return nil, err
		}
		pirs = append(pirs, pir)
	}
	return pirs, nil
}

func (s *Store) UpdatePIR(ctx context.Context, id string, patch PIRPatch) error {
	if err := s.docs.Update(ctx, collectionPIRs, id, patch.toDocPatch()); err != nil {
		return fmt.Errorf("update pir %s: %w", id, err)
	}
	return nil
}

// CreateQuestion stores the question and registers its id on the parent
// PIR. The two writes are sequential, not atomic: a linkage failure is
// logged and the created question kept, because children remain reachable
// by the pirId query path.
func (s *Store) CreateQuestion(ctx context.Context, question Question) (Question, error) {
	if question.AttachmentIDs == nil {
		question.AttachmentIDs = []string{}
	}
	id, err := s.create(ctx, collectionQuestions, question)
	if err != nil {
		return Question{}, fmt.Errorf("create question: %w", err)
	}
	if err := s.UpdatePIR(ctx, question.PIRID, PIRPatch{AddQuestionIDs: []string{id}}); err != nil {
		log.Printf("WARNING: question %s created but not linked to pir %s: %v", id, question.PIRID, err)
	}
	return s.GetQuestion(ctx, id)
}

func (s *Store) GetQuestion(ctx context.Context, id string) (Question, error) {
	rec, err := s.docs.Get(ctx, collectionQuestions, id)
	if err != nil {
		return Question{}, err
	}
	return decodeQuestion(rec)
}

// QuestionsByPIR resolves children through the child-side reference field,
// in creation order.
func (s *Store) QuestionsByPIR(ctx context.Context, pirID string) ([]Question, error) {
	records, err := s.docs.Query(ctx, collectionQuestions,
		[]docstore.Filter{{Field: "pirId", Value: pirID}},
		&docstore.Order{Field: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("questions by pir: %w", err)
	}
	questions := make([]Question, 0, len(records))
	for _, rec := range records {
		question, err := decodeQuestion(rec)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, nil
}

// QuestionsByIDs resolves children through the parent's id-list. Ids that
// no longer resolve are silently dropped, so dangling references never
// surface to readers.
func (s *Store) QuestionsByIDs(ctx context.Context, ids []string) ([]Question, error) {
	records, err := s.docs.BatchGet(ctx, collectionQuestions, ids)
	if err != nil {
		return nil, fmt.Errorf("questions by ids: %w", err)
	}
	questions := make([]Question, 0, len(records))
	for _, rec := range records {
		question, err := decodeQuestion(rec)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func (s *Store) CreateAnswer(ctx context.Context, answer Answer) (Answer, error) {
	if answer.AttachmentIDs == nil {
		answer.AttachmentIDs = []string{}
	}
	id, err := s.create(ctx, collectionAnswers, answer)
	if err != nil {
		return Answer{}, fmt.Errorf("create answer: %w", err)
	}
	return s.GetAnswer(ctx, id)
}

func (s *Store) GetAnswer(ctx context.Context, id string) (Answer, error) {
	rec, err := s.docs.Get(ctx, collectionAnswers, id)
	if err != nil {
		return Answer{}, err
	}
	return decodeAnswer(rec)
}

func (s *Store) AnswersByQuestion(ctx context.Context, questionID string) ([]Answer, error) {
	return s.answersBy(ctx, docstore.Filter{Field: "questionId", Value: questionID})
}

func (s *Store) AnswersByPIR(ctx context.Context, pirID string) ([]Answer, error) {
	return s.answersBy(ctx, docstore.Filter{Field: "pirId", Value: pirID})
}

func (s *Store) answersBy(ctx context.Context, filter docstore.Filter) ([]Answer, error) {
	records, err := s.docs.Query(ctx, collectionAnswers, []docstore.Filter{filter}, &docstore.Order{Field: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make([]Answer, 0, len(records))
	for _, rec := range records {
		answer, err := decodeAnswer(rec)
		if err != nil {
			return nil, err
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (s *Store) CreateAttachment(ctx context.Context, attachment Attachment) (Attachment, error) {
	id, err := s.create(ctx, collectionAttachments, attachment)
	if err != nil {
		return Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	if err := s.linkAttachment(ctx, attachment.ParentType, attachment.ParentID, id); err != nil {
		log.Printf("WARNING: attachment %s created but not linked to %s %s: %v",
			id, attachment.ParentType, attachment.ParentID, err)
	}
	return s.GetAttachment(ctx, id)
}

func (s *Store) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	rec, err := s.docs.Get(ctx, collectionAttachments, id)
	if err != nil {
		return Attachment{}, err
	}
	return decodeAttachment(rec)
}

// DeleteAttachment removes the metadata record and unlinks the id from the
// parent's attachment list. Unlink failure is logged, not surfaced: readers
// filter unresolvable ids.
func (s *Store) DeleteAttachment(ctx context.Context, id string) (Attachment, error) {
	attachment, err := s.GetAttachment(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if err := s.docs.Delete(ctx, collectionAttachments, id); err != nil {
		return Attachment{}, fmt.Errorf("delete attachment %s: %w", id, err)
	}
	if err := s.unlinkAttachment(ctx, attachment.ParentType, attachment.ParentID, id); err != nil {
		log.Printf("WARNING: attachment %s deleted but still referenced by %s %s: %v",
			id, attachment.ParentType, attachment.ParentID, err)
	}
	return attachment, nil
}

func (s *Store) AttachmentsByParent(ctx context.Context, parentType AttachmentParent, parentID string) ([]Attachment, error) {
	records, err := s.docs.Query(ctx, collectionAttachments, []docstore.Filter{
		{Field: "parentType", Value: string(parentType)},
		{Field: "parentId", Value: parentID},
	}, &docstore.Order{Field: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("attachments by parent: %w", err)
	}
	attachments := make([]Attachment, 0, len(records))
	for _, rec := range records {
		attachment, err := decodeAttachment(rec)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

func (s *Store) AttachmentsByIDs(ctx context.Context, ids []string) ([]Attachment, error) {
	records, err := s.docs.BatchGet(ctx, collectionAttachments, ids)
	if err != nil {
		return nil, fmt.Errorf("attachments by ids: %w", err)
	}
	attachments := make([]Attachment, 0, len(records))
	for _, rec := range records {
		attachment, err := decodeAttachment(rec)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

func (s *Store) linkAttachment(ctx context.Context, parentType AttachmentParent, parentID, attachmentID string) error {
	collection, err := parentCollection(parentType)
	if err != nil {
		return err
	}
	return s.docs.Update(ctx, collection, parentID, docstore.Patch{
		ArrayUnion: map[string][]string{"attachmentIds": {attachmentID}},
	})
}

func (s *Store) unlinkAttachment(ctx context.Context, parentType AttachmentParent, parentID, attachmentID string) error {
	collection, err := parentCollection(parentType)
	if err != nil {
		return err
	}
	return s.docs.Update(ctx, collection, parentID, docstore.Patch{
		ArrayRemove: map[string][]string{"attachmentIds": {attachmentID}},
	})
}

func parentCollection(parentType AttachmentParent) (string, error) {
	switch parentType {
	case ParentPIR:
		return collectionPIRs, nil
	case ParentQuestion:
		return collectionQuestions, nil
	case ParentAnswer:
		return collectionAnswers, nil
	}
	return "", fmt.Errorf("unknown attachment parent type %q", parentType)
}

// EnsureTag creates a tag unless one with the same name already exists,
// ignoring case. The second return value reports whether a tag was created.
func (s *Store) EnsureTag(ctx context.Context, name, category, color string) (Tag, bool, error) {
	nameLower := strings.ToLower(strings.TrimSpace(name))
	records, err := s.docs.Query(ctx, collectionTags,
		[]docstore.Filter{{Field: "nameLower", Value: nameLower}}, nil)
	if err != nil {
		return Tag{}, false, fmt.Errorf("lookup tag: %w", err)
	}
	if len(records) > 0 {
		tag, err := decodeTag(records[0])
		return tag, false, err
	}
	tag := Tag{Name: strings.TrimSpace(name), NameLower: nameLower, Category: category, Color: color}
	id, err := s.create(ctx, collectionTags, tag)
	if err != nil {
		return Tag{}, false, fmt.Errorf("create tag: %w", err)
	}
	created, err := s.GetTag(ctx, id)
	return created, true, err
}

func (s *Store) GetTag(ctx context.Context, id string) (Tag, error) {
	rec, err := s.docs.Get(ctx, collectionTags, id)
	if err != nil {
		return Tag{}, err
	}
	return decodeTag(rec)
}

func (s *Store) DeleteTag(ctx context.Context, id string) error {
	if err := s.docs.Delete(ctx, collectionTags, id); err != nil {
		return fmt.Errorf("delete tag %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	records, err := s.docs.Query(ctx, collectionTags, nil, &docstore.Order{Field: "nameLower"})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]Tag, 0, len(records))
	for _, rec := range records {
		tag, err := decodeTag(rec)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	id, err := s.create(ctx, collectionUsers, user)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	rec, err := s.docs.Get(ctx, collectionUsers, id)
	if err != nil {
		return User{}, err
	}
	return decodeUser(rec)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	records, err := s.docs.Query(ctx, collectionUsers,
		[]docstore.Filter{{Field: "email", Value: strings.ToLower(strings.TrimSpace(email))}}, nil)
	if err != nil {
		return User{}, fmt.Errorf("user by email: %w", err)
	}
	if len(records) == 0 {
		return User{}, ErrNotFound
	}
	return decodeUser(records[0])
}

func (s *Store) UsersByRole(ctx context.Context, role Role) ([]User, error) {
	records, err := s.docs.Query(ctx, collectionUsers,
		[]docstore.Filter{{Field: "role", Value: string(role)}}, &docstore.Order{Field: "displayName"})
	if err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}
	users := make([]User, 0, len(records))
	for _, rec := range records {
		user, err := decodeUser(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.create(ctx, collectionSessions, RefreshSession{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *Store) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	records, err := s.docs.Query(ctx, collectionSessions,
		[]docstore.Filter{{Field: "tokenHash", Value: tokenHash}}, nil)
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	for _, rec := range records {
		var session RefreshSession
		if err := decodeInto(rec, &session); err != nil {
			return User{}, err
		}
		if session.ExpiresAt.After(time.Now()) {
			return s.GetUser(ctx, session.UserID)
		}
	}
	return User{}, ErrNotFound
}

func (s *Store) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	records, err := s.docs.Query(ctx, collectionSessions,
		[]docstore.Filter{{Field: "tokenHash", Value: tokenHash}}, nil)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	for _, rec := range records {
		if err := s.docs.Delete(ctx, collectionSessions, rec.ID); err != nil && err != ErrNotFound {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	return nil
}

func (s *Store) create(ctx context.Context, collection string, entity any) (string, error) {
	encoded, err := json.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", collection, err)
	}
	var data map[string]any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return "", fmt.Errorf("encode %s: %w", collection, err)
	}
	return s.docs.Create(ctx, collection, data)
}

func decodeInto(rec docstore.Record, out any) error {
	encoded, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("decode document %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("decode document %s: %w", rec.ID, err)
	}
	return nil
}

func decodePIR(rec docstore.Record) (PIR, error) {
	var pir PIR
	if err := decodeInto(rec, &pir); err != nil {
		return PIR{}, err
	}
	pir.ID, pir.CreatedAt, pir.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	if pir.Tags == nil {
		pir.Tags = []string{}
	}
	if pir.QuestionIDs == nil {
		pir.QuestionIDs = []string{}
	}
	if pir.AttachmentIDs == nil {
		pir.AttachmentIDs = []string{}
	}
	return pir, nil
}

func decodeQuestion(rec docstore.Record) (Question, error) {
	var question Question
	if err := decodeInto(rec, &question); err != nil {
		return Question{}, err
	}
	question.ID, question.CreatedAt, question.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	if question.AttachmentIDs == nil {
		question.AttachmentIDs = []string{}
	}
	return question, nil
}

func decodeAnswer(rec docstore.Record) (Answer, error) {
	var answer Answer
	if err := decodeInto(rec, &answer); err != nil {
		return Answer{}, err
	}
	answer.ID, answer.CreatedAt, answer.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	if answer.AttachmentIDs == nil {
		answer.AttachmentIDs = []string{}
	}
	return answer, nil
}

func decodeAttachment(rec docstore.Record) (Attachment, error) {
	var attachment Attachment
	if err := decodeInto(rec, &attachment); err != nil {
		return Attachment{}, err
	}
	attachment.ID, attachment.CreatedAt, attachment.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	return attachment, nil
}

func decodeTag(rec docstore.Record) (Tag, error) {
	var tag Tag
	if err := decodeInto(rec, &tag); err != nil {
		return Tag{}, err
	}
	tag.ID, tag.CreatedAt, tag.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	return tag, nil
}

func decodeUser(rec docstore.Record) (User, error) {
	var user User
	if err := decodeInto(rec, &user); err != nil {
		return User{}, err
	}
	user.ID, user.CreatedAt, user.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	return user, nil
}
