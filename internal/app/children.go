package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pirhub/api/internal/store"
	"pirhub/api/internal/util"
)

type CreateQuestionInput struct {
	Text     string
	Category string
	Required bool
}

// CreateQuestion adds a question to a PIR. Questions can be authored while
// the PIR is still editable (Draft or Requested), by an admin or the
// requester. The store layer registers the question id on the parent.
func (s *Service) CreateQuestion(ctx context.Context, session Session, pirID string, input CreateQuestionInput) (store.Question, error) {
	pir, err := s.GetPIR(ctx, pirID)
	if err != nil {
		return store.Question{}, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return store.Question{}, validationError("question text must not be empty")
	}
	if strings.TrimSpace(input.Category) == "" {
		return store.Question{}, validationError("question category must not be empty")
	}
	if pir.Status != store.StatusDraft && pir.Status != store.StatusRequested {
		return store.Question{}, validationError("questions can only be added before submission")
	}
	actor := s.actor(session)
	if actor.Role != store.RoleAdmin && actor.ID != pir.RequesterID {
		return store.Question{}, permissionDenied("not allowed to add questions to this pir")
	}

	question, err := s.store.CreateQuestion(ctx, store.Question{
		PIRID:     pirID,
		Text:      strings.TrimSpace(input.Text),
		Category:  strings.TrimSpace(input.Category),
		Required:  input.Required,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return store.Question{}, err
	}

	s.events.ChildCreated(ChildEvent{
		PIR:       pir,
		Kind:      ChildQuestion,
		Text:      question.Text,
		ActorName: session.UserName,
	})
	return question, nil
}

func (s *Service) ListQuestions(ctx context.Context, pirID string) ([]store.Question, error) {
	if _, err := s.GetPIR(ctx, pirID); err != nil {
		return nil, err
	}
	return s.store.QuestionsByPIR(ctx, pirID)
}

type CreateAnswerInput struct {
	Text string
}

// CreateAnswer posts an answer to a question. Answers are accepted while
// the PIR is in Requested, from an admin or the assigned responder.
func (s *Service) CreateAnswer(ctx context.Context, session Session, questionID string, input CreateAnswerInput) (store.Answer, error) {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Answer{}, notFound("question")
		}
		return store.Answer{}, err
	}
	pir, err := s.GetPIR(ctx, question.PIRID)
	if err != nil {
		return store.Answer{}, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return store.Answer{}, validationError("answer text must not be empty")
	}
	if pir.Status != store.StatusRequested {
		return store.Answer{}, validationError("answers can only be posted while the pir is in REQUESTED")
	}
	actor := s.actor(session)
	if actor.Role != store.RoleAdmin && actor.ID != pir.AssignedResponderID {
		return store.Answer{}, permissionDenied("not allowed to answer this pir")
	}

	answer, err := s.store.CreateAnswer(ctx, store.Answer{
		QuestionID:    questionID,
		PIRID:         question.PIRID,
		Text:          strings.TrimSpace(input.Text),
		ResponderID:   session.UserID,
		ResponderName: session.UserName,
	})
	if err != nil {
		return store.Answer{}, err
	}

	s.events.ChildCreated(ChildEvent{
		PIR:       pir,
		Kind:      ChildAnswer,
		Text:      answer.Text,
		ActorName: session.UserName,
	})
	return answer, nil
}

func (s *Service) ListAnswers(ctx context.Context, questionID string) ([]store.Answer, error) {
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		if err == store.ErrNotFound {
			return nil, notFound("question")
		}
		return nil, err
	}
	return s.store.AnswersByQuestion(ctx, questionID)
}

type UploadAttachmentInput struct {
	FileName string
	FileType string
	Data     []byte
}

// UploadAttachment writes the blob first and only then the metadata
// record: a blob failure aborts the upload so metadata never points at a
// blob that was never stored.
func (s *Service) UploadAttachment(ctx context.Context, session Session, parentType store.AttachmentParent, parentID string, input UploadAttachmentInput) (store.Attachment, error) {
	if strings.TrimSpace(input.FileName) == "" {
		return store.Attachment{}, validationError("fileName must not be empty")
	}
	if len(input.Data) == 0 {
		return store.Attachment{}, validationError("file is empty")
	}
	if err := s.checkAttachmentParent(ctx, parentType, parentID); err != nil {
		return store.Attachment{}, err
	}

	path := fmt.Sprintf("%s/%s/%s-%s",
		strings.ToLower(string(parentType)), parentID, util.NewID("blob"), input.FileName)
	locator, err := s.blobs.Put(ctx, path, input.Data, input.FileType)
	if err != nil {
		return store.Attachment{}, dependencyFailure("blob store write failed")
	}

	attachment, err := s.store.CreateAttachment(ctx, store.Attachment{
		ParentID:    parentID,
		ParentType:  parentType,
		FileName:    input.FileName,
		FileType:    input.FileType,
		FileSize:    int64(len(input.Data)),
		UploadedBy:  session.UserID,
		DownloadURL: locator,
	})
	if err != nil {
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) checkAttachmentParent(ctx context.Context, parentType store.AttachmentParent, parentID string) error {
	var err error
	switch parentType {
	case store.ParentPIR:
		_, err = s.store.GetPIR(ctx, parentID)
	case store.ParentQuestion:
		_, err = s.store.GetQuestion(ctx, parentID)
	case store.ParentAnswer:
		_, err = s.store.GetAnswer(ctx, parentID)
	default:
		return validationError("unknown attachment parent type")
	}
	if err == store.ErrNotFound {
		return notFound(strings.ToLower(string(parentType)))
	}
	return err
}

// DownloadAttachment returns the metadata record and the blob payload.
func (s *Service) DownloadAttachment(ctx context.Context, id string) (store.Attachment, []byte, error) {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Attachment{}, nil, notFound("attachment")
		}
		return store.Attachment{}, nil, err
	}
	data, err := s.blobs.Get(ctx, attachment.DownloadURL)
	if err != nil {
		return store.Attachment{}, nil, dependencyFailure("blob store read failed")
	}
	return attachment, data, nil
}

// DeleteAttachment attempts the blob delete first; a blob failure is
// logged and the metadata delete proceeds anyway, so cleanup is
// at-least-once rather than atomic.
func (s *Service) DeleteAttachment(ctx context.Context, session Session, id string) error {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return notFound("attachment")
		}
		return err
	}
	actor := s.actor(session)
	if actor.Role != store.RoleAdmin && actor.ID != attachment.UploadedBy {
		return permissionDenied("not allowed to delete this attachment")
	}

	if err := s.blobs.Delete(ctx, attachment.DownloadURL); err != nil {
		log.Printf("WARNING: blob delete failed for attachment %s (%s): %v", id, attachment.DownloadURL, err)
	}
	if _, err := s.store.DeleteAttachment(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *Service) ListAttachments(ctx context.Context, parentType store.AttachmentParent, parentID string) ([]store.Attachment, error) {
	if err := s.checkAttachmentParent(ctx, parentType, parentID); err != nil {
		return nil, err
	}
	return s.store.AttachmentsByParent(ctx, parentType, parentID)
}
