package app

import (
	"time"

	"pirhub/api/internal/store"
)

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func pirPayload(pir store.PIR) map[string]any {
	payload := map[string]any{
		"id":              pir.ID,
		"title":           pir.Title,
		"description":     pir.Description,
		"productName":     pir.ProductName,
		"productCategory": pir.ProductCategory,
		"status":          string(pir.Status),
		"requesterId":     pir.RequesterID,
		"requesterName":   pir.RequesterName,
		"comments":        pir.Comments,
		"reviewNotes":     pir.ReviewNotes,
		"tags":            pir.Tags,
		"questionIds":     pir.QuestionIDs,
		"attachmentIds":   pir.AttachmentIDs,
		"createdAt":       stamp(pir.CreatedAt),
		"updatedAt":       stamp(pir.UpdatedAt),
		"submittedAt":     optionalStamp(pir.SubmittedAt),
		"reviewedAt":      optionalStamp(pir.ReviewedAt),
		"acceptedAt":      optionalStamp(pir.AcceptedAt),
		"rejectedAt":      optionalStamp(pir.RejectedAt),
	}
	if pir.AssignedResponderID != "" {
		payload["assignedResponderId"] = pir.AssignedResponderID
		payload["assignedResponderName"] = pir.AssignedResponderName
	}
	if pir.ReviewerID != "" {
		payload["reviewerId"] = pir.ReviewerID
		payload["reviewerName"] = pir.ReviewerName
	}
	return payload
}

func detailPayload(detail PIRDetail) map[string]any {
	payload := pirPayload(detail.PIR)

	questions := make([]map[string]any, 0, len(detail.Questions))
	answersByQuestion := make(map[string][]map[string]any)
	for _, answer := range detail.Answers {
		answersByQuestion[answer.QuestionID] = append(answersByQuestion[answer.QuestionID], answerPayload(answer))
	}
	for _, question := range detail.Questions {
		q := questionPayload(question)
		answers := answersByQuestion[question.ID]
		if answers == nil {
			answers = []map[string]any{}
		}
		q["answers"] = answers
		questions = append(questions, q)
	}
	payload["questions"] = questions

	attachments := make([]map[string]any, 0, len(detail.Attachments))
	for _, attachment := range detail.Attachments {
		attachments = append(attachments, attachmentPayload(attachment))
	}
	payload["attachments"] = attachments

	actions := make([]string, 0, len(detail.Actions))
	for _, action := range detail.Actions {
		actions = append(actions, string(action))
	}
	payload["allowedActions"] = actions
	return payload
}

func questionPayload(question store.Question) map[string]any {
	return map[string]any{
		"id":            question.ID,
		"pirId":         question.PIRID,
		"text":          question.Text,
		"category":      question.Category,
		"required":      question.Required,
		"createdBy":     question.CreatedBy,
		"attachmentIds": question.AttachmentIDs,
		"createdAt":     stamp(question.CreatedAt),
		"updatedAt":     stamp(question.UpdatedAt),
	}
}

func answerPayload(answer store.Answer) map[string]any {
	return map[string]any{
		"id":            answer.ID,
		"questionId":    answer.QuestionID,
		"pirId":         answer.PIRID,
		"text":          answer.Text,
		"responderId":   answer.ResponderID,
		"responderName": answer.ResponderName,
		"attachmentIds": answer.AttachmentIDs,
		"createdAt":     stamp(answer.CreatedAt),
		"updatedAt":     stamp(answer.UpdatedAt),
	}
}

func attachmentPayload(attachment store.Attachment) map[string]any {
	return map[string]any{
		"id":          attachment.ID,
		"parentId":    attachment.ParentID,
		"parentType":  string(attachment.ParentType),
		"fileName":    attachment.FileName,
		"fileType":    attachment.FileType,
		"fileSize":    attachment.FileSize,
		"uploadedBy":  attachment.UploadedBy,
		"downloadUrl": "/api/attachments/" + attachment.ID,
		"uploadedAt":  stamp(attachment.CreatedAt),
	}
}

func tagPayload(tag store.Tag) map[string]any {
	return map[string]any{
		"id":       tag.ID,
		"name":     tag.Name,
		"category": tag.Category,
		"color":    tag.Color,
	}
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        string(user.Role),
		"department":  user.Department,
		"createdAt":   stamp(user.CreatedAt),
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalStamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return stamp(*t)
}
