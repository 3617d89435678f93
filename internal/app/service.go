// Package app is the application core: the lifecycle engine, the
// parent/child consistency rules, sessions, and the HTTP surface.
package app

import (
	"context"
	"strings"
	"time"

	"pirhub/api/internal/auth"
	"pirhub/api/internal/authpw"
	"pirhub/api/internal/blob"
	"pirhub/api/internal/config"
	"pirhub/api/internal/rbac"
	"pirhub/api/internal/store"
	"pirhub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreatePIR(ctx context.Context, pir store.PIR) (store.PIR, error)
	GetPIR(ctx context.Context, id string) (store.PIR, error)
	ListPIRs(ctx context.Context, status store.PIRStatus) ([]store.PIR, error)
	UpdatePIR(ctx context.Context, id string, patch store.PIRPatch) error

	CreateQuestion(ctx context.Context, question store.Question) (store.Question, error)
	GetQuestion(ctx context.Context, id string) (store.Question, error)
	QuestionsByPIR(ctx context.Context, pirID string) ([]store.Question, error)
	QuestionsByIDs(ctx context.Context, ids []string) ([]store.Question, error)

	CreateAnswer(ctx context.Context, answer store.Answer) (store.Answer, error)
	GetAnswer(ctx context.Context, id string) (store.Answer, error)
	AnswersByQuestion(ctx context.Context, questionID string) ([]store.Answer, error)
	AnswersByPIR(ctx context.Context, pirID string) ([]store.Answer, error)

	CreateAttachment(ctx context.Context, attachment store.Attachment) (store.Attachment, error)
	GetAttachment(ctx context.Context, id string) (store.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) (store.Attachment, error)
	AttachmentsByParent(ctx context.Context, parentType store.AttachmentParent, parentID string) ([]store.Attachment, error)

	EnsureTag(ctx context.Context, name, category, color string) (store.Tag, bool, error)
	GetTag(ctx context.Context, id string) (store.Tag, error)
	DeleteTag(ctx context.Context, id string) error
	ListTags(ctx context.Context) ([]store.Tag, error)

	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UsersByRole(ctx context.Context, role store.Role) ([]store.User, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    blob.Store
	events   EventSink
	auth     *authpw.Service
}

func New(cfg config.Config, data dataStore, sessions sessionStore, blobs blob.Store, events EventSink) *Service {
	if events == nil {
		events = NopSink{}
	}
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		blobs:    blobs,
		events:   events,
		auth:     authpw.NewService(data),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthService() *authpw.Service {
	return s.auth
}

// CreateSession issues an access token plus refresh token for the user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, string(user.Role), jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(user.Role),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(user.Role),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh session issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session Session) (store.User, error) {
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.User{}, notFound("user")
		}
		return store.User{}, err
	}
	return user, nil
}

// actor reconstructs the rbac subject from the session.
func (s *Service) actor(session Session) store.User {
	return store.User{
		ID:          session.UserID,
		DisplayName: session.UserName,
		Role:        rbac.Normalize(session.Role),
	}
}

type CreatePIRInput struct {
	Title           string
	Description     string
	ProductName     string
	ProductCategory string
	Comments        string
	Tags            []string
}

func (s *Service) CreatePIR(ctx context.Context, session Session, input CreatePIRInput) (store.PIR, error) {
	if err := validatePIRFields(input.Title, input.Description, input.ProductName, input.ProductCategory); err != nil {
		return store.PIR{}, err
	}
	pir := store.PIR{
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		ProductName:     strings.TrimSpace(input.ProductName),
		ProductCategory: strings.TrimSpace(input.ProductCategory),
		Comments:        input.Comments,
		Status:          store.StatusDraft,
		RequesterID:     session.UserID,
		RequesterName:   session.UserName,
		Tags:            dedupe(input.Tags),
	}
	created, err := s.store.CreatePIR(ctx, pir)
	if err != nil {
		return store.PIR{}, err
	}
	return created, nil
}

func validatePIRFields(title, description, productName, productCategory string) error {
	missing := []string{}
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(productName) == "" {
		missing = append(missing, "productName")
	}
	if strings.TrimSpace(productCategory) == "" {
		missing = append(missing, "productCategory")
	}
	if len(missing) > 0 {
		return domainError(422, "VALIDATION_ERROR", "required fields missing", map[string]any{"fields": missing})
	}
	return nil
}

func (s *Service) GetPIR(ctx context.Context, id string) (store.PIR, error) {
	pir, err := s.store.GetPIR(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return store.PIR{}, notFound("pir")
		}
		return store.PIR{}, err
	}
	return pir, nil
}

func (s *Service) ListPIRs(ctx context.Context, status string) ([]store.PIR, error) {
	if status != "" && !validStatus(store.PIRStatus(status)) {
		return nil, validationError("unknown status filter")
	}
	return s.store.ListPIRs(ctx, store.PIRStatus(status))
}

// PIRDetail is the composed read model for a single PIR.
type PIRDetail struct {
	PIR         store.PIR
	Questions   []store.Question
	Answers     []store.Answer
	Attachments []store.Attachment
	Actions     []rbac.Action
}

func (s *Service) PIRDetail(ctx context.Context, session Session, id string) (PIRDetail, error) {
	pir, err := s.GetPIR(ctx, id)
	if err != nil {
		return PIRDetail{}, err
	}
	questions, err := s.store.QuestionsByPIR(ctx, id)
	if err != nil {
		return PIRDetail{}, err
	}
	answers, err := s.store.AnswersByPIR(ctx, id)
	if err != nil {
		return PIRDetail{}, err
	}
	attachments, err := s.store.AttachmentsByParent(ctx, store.ParentPIR, id)
	if err != nil {
		return PIRDetail{}, err
	}
	return PIRDetail{
		PIR:         pir,
		Questions:   questions,
		Answers:     answers,
		Attachments: attachments,
		Actions:     rbac.ResolveActions(s.actor(session), pir),
	}, nil
}

type UpdatePIRInput struct {
	Title           *string
	Description     *string
	ProductName     *string
	ProductCategory *string
	Comments        *string
}

// UpdatePIR patches the editable PIR fields. Requires the Edit action.
func (s *Service) UpdatePIR(ctx context.Context, session Session, id string, input UpdatePIRInput) (store.PIR, error) {
	pir, err := s.GetPIR(ctx, id)
	if err != nil {
		return store.PIR{}, err
	}
	if !rbac.Can(s.actor(session), pir, rbac.ActionEdit) {
		return store.PIR{}, permissionDenied("not allowed to edit this pir")
	}

	requireNonEmpty := func(field string, value *string) error {
		if value != nil && strings.TrimSpace(*value) == "" {
			return validationError(field + " must not be empty")
		}
		return nil
	}
	for field, value := range map[string]*string{
		"title":           input.Title,
		"description":     input.Description,
		"productName":     input.ProductName,
		"productCategory": input.ProductCategory,
	} {
		if err := requireNonEmpty(field, value); err != nil {
			return store.PIR{}, err
		}
	}

	patch := store.PIRPatch{
		Title:           input.Title,
		Description:     input.Description,
		ProductName:     input.ProductName,
		ProductCategory: input.ProductCategory,
		Comments:        input.Comments,
	}
	if err := s.store.UpdatePIR(ctx, id, patch); err != nil {
		return store.PIR{}, err
	}
	return s.GetPIR(ctx, id)
}

// AssignResponder sets the responder a PIR is routed to. Only possible
// before submission, by an admin or the requester.
func (s *Service) AssignResponder(ctx context.Context, session Session, pirID, responderID string) (store.PIR, error) {
	pir, err := s.GetPIR(ctx, pirID)
	if err != nil {
		return store.PIR{}, err
	}
	if pir.Status != store.StatusDraft && pir.Status != store.StatusRequested {
		return store.PIR{}, validationError("responder can only be assigned before submission")
	}
	actor := s.actor(session)
	if actor.Role != store.RoleAdmin && actor.ID != pir.RequesterID {
		return store.PIR{}, permissionDenied("not allowed to assign a responder")
	}
	responder, err := s.store.GetUser(ctx, responderID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.PIR{}, notFound("responder")
		}
		return store.PIR{}, err
	}
	patch := store.PIRPatch{
		AssignedResponderID:   &responder.ID,
		AssignedResponderName: &responder.DisplayName,
	}
	if err := s.store.UpdatePIR(ctx, pirID, patch); err != nil {
		return store.PIR{}, err
	}
	return s.GetPIR(ctx, pirID)
}

type TagInput struct {
	Name     string
	Category string
	Color    string
}

// AddPIRTags ensures the named tags exist globally and unions their names
// into the PIR's tag set.
func (s *Service) AddPIRTags(ctx context.Context, session Session, pirID string, inputs []TagInput) (store.PIR, error) {
	pir, err := s.GetPIR(ctx, pirID)
	if err != nil {
		return store.PIR{}, err
	}
	if !rbac.Can(s.actor(session), pir, rbac.ActionEdit) {
		return store.PIR{}, permissionDenied("not allowed to tag this pir")
	}

	names := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input.Name) == "" {
			return store.PIR{}, validationError("tag name must not be empty")
		}
		tag, _, err := s.store.EnsureTag(ctx, input.Name, input.Category, input.Color)
		if err != nil {
			return store.PIR{}, err
		}
		names = append(names, tag.Name)
	}
	if err := s.store.UpdatePIR(ctx, pirID, store.PIRPatch{AddTags: names}); err != nil {
		return store.PIR{}, err
	}
	return s.GetPIR(ctx, pirID)
}

func (s *Service) ListTags(ctx context.Context) ([]store.Tag, error) {
	return s.store.ListTags(ctx)
}

// DeleteTag removes a tag record from the global collection. Admin only;
// PIRs keep the tag name in their own set until edited.
func (s *Service) DeleteTag(ctx context.Context, session Session, id string) error {
	if s.actor(session).Role != store.RoleAdmin {
		return permissionDenied("only admins can delete tags")
	}
	if _, err := s.store.GetTag(ctx, id); err != nil {
		if err == store.ErrNotFound {
			return notFound("tag")
		}
		return err
	}
	return s.store.DeleteTag(ctx, id)
}

func validStatus(status store.PIRStatus) bool {
	switch status {
	case store.StatusDraft, store.StatusRequested, store.StatusSubmitted,
		store.StatusReviewed, store.StatusAccepted, store.StatusRejected:
		return true
	}
	return false
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
