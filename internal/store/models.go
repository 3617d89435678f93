package store

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
	RoleReviewer  Role = "reviewer"
)

// ValidRole reports whether a role is one of the four assignable roles.
func ValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleRequester, RoleResponder, RoleReviewer:
		return true
	}
	return false
}

type PIRStatus string

const (
	StatusDraft     PIRStatus = "DRAFT"
	StatusRequested PIRStatus = "REQUESTED"
	StatusSubmitted PIRStatus = "SUBMITTED"
	StatusReviewed  PIRStatus = "REVIEWED"
	StatusAccepted  PIRStatus = "ACCEPTED"
	StatusRejected  PIRStatus = "REJECTED"
)

// Terminal reports whether no further transitions leave the status.
func (s PIRStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

type AttachmentParent string

const (
	ParentPIR      AttachmentParent = "PIR"
	ParentQuestion AttachmentParent = "QUESTION"
	ParentAnswer   AttachmentParent = "ANSWER"
)

// PIR is the aggregate root tracked through the request lifecycle.
// QuestionIDs and AttachmentIDs are the parent-side back-references kept in
// step with the children's pirId/parentId fields.
type PIR struct {
	ID                    string     `json:"-"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	ProductName           string     `json:"productName"`
	ProductCategory       string     `json:"productCategory"`
	Status                PIRStatus  `json:"status"`
	RequesterID           string     `json:"requesterId"`
	RequesterName         string     `json:"requesterName"`
	AssignedResponderID   string     `json:"assignedResponderId,omitempty"`
	AssignedResponderName string     `json:"assignedResponderName,omitempty"`
	ReviewerID            string     `json:"reviewerId,omitempty"`
	ReviewerName          string     `json:"reviewerName,omitempty"`
	Comments              string     `json:"comments,omitempty"`
	ReviewNotes           string     `json:"reviewNotes,omitempty"`
	Tags                  []string   `json:"tags"`
	QuestionIDs           []string   `json:"questionIds"`
	AttachmentIDs         []string   `json:"attachmentIds"`
	SubmittedAt           *time.Time `json:"submittedAt,omitempty"`
	ReviewedAt            *time.Time `json:"reviewedAt,omitempty"`
	AcceptedAt            *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt            *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt             time.Time  `json:"-"`
	UpdatedAt             time.Time  `json:"-"`
}

type Question struct {
	ID            string    `json:"-"`
	PIRID         string    `json:"pirId"`
	Text          string    `json:"text"`
	Category      string    `json:"category"`
	Required      bool      `json:"required"`
	CreatedBy     string    `json:"createdBy"`
	AttachmentIDs []string  `json:"attachmentIds"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

// Answer denormalizes the owning pirId so answers for a whole PIR are
// queryable without resolving the question first.
type Answer struct {
	ID            string    `json:"-"`
	QuestionID    string    `json:"questionId"`
	PIRID         string    `json:"pirId"`
	Text          string    `json:"text"`
	ResponderID   string    `json:"responderId"`
	ResponderName string    `json:"responderName"`
	AttachmentIDs []string  `json:"attachmentIds"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

type Attachment struct {
	ID          string           `json:"-"`
	ParentID    string           `json:"parentId"`
	ParentType  AttachmentParent `json:"parentType"`
	FileName    string           `json:"fileName"`
	FileType    string           `json:"fileType"`
	FileSize    int64            `json:"fileSize"`
	UploadedBy  string           `json:"uploadedBy"`
	DownloadURL string           `json:"downloadUrl"`
	CreatedAt   time.Time        `json:"-"`
	UpdatedAt   time.Time        `json:"-"`
}

// Tag is global, not PIR-scoped. NameLower backs the case-insensitive
// idempotent create.
type Tag struct {
	ID        string    `json:"-"`
	Name      string    `json:"name"`
	NameLower string    `json:"nameLower"`
	Category  string    `json:"category,omitempty"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type User struct {
	ID           string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Role         Role      `json:"role"`
	Department   string    `json:"department,omitempty"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

type RefreshSession struct {
	ID        string    `json:"-"`
	TokenHash string    `json:"tokenHash"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
