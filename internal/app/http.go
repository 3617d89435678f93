package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pirhub/api/internal/auth"
	"pirhub/api/internal/authpw"
	"pirhub/api/internal/obs"
	"pirhub/api/internal/store"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: obs.Handler()}
}

func (s *HTTPServer) Handler() http.Handler {
	return obs.Instrument(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/metrics" {
		w.Header().Del("Content-Type")
		s.metrics.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/pirs" {
		switch r.Method {
		case http.MethodGet:
			pirs, err := s.service.ListPIRs(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
			if err != nil {
				respondError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(pirs))
			for _, pir := range pirs {
				items = append(items, pirPayload(pir))
			}
			writeJSON(w, http.StatusOK, map[string]any{"pirs": items})
		case http.MethodPost:
			var body struct {
				Title           string   `json:"title"`
				Description     string   `json:"description"`
				ProductName     string   `json:"productName"`
				ProductCategory string   `json:"productCategory"`
				Comments        string   `json:"comments"`
				Tags            []string `json:"tags"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pir, err := s.service.CreatePIR(r.Context(), session, CreatePIRInput{
				Title:           body.Title,
				Description:     body.Description,
				ProductName:     body.ProductName,
				ProductCategory: body.ProductCategory,
				Comments:        body.Comments,
				Tags:            body.Tags,
			})
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, pirPayload(pir))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
		tags, err := s.service.ListTags(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(tags))
		for _, tag := range tags {
			items = append(items, tagPayload(tag))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/users/me" {
		user, err := s.service.Me(r.Context(), session)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(user))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "pirs" {
		pirID := parts[2]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.PIRDetail(r.Context(), session, pirID)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detailPayload(detail))
		case http.MethodPatch:
			var body struct {
				Title           *string `json:"title"`
				Description     *string `json:"description"`
				ProductName     *string `json:"productName"`
				ProductCategory *string `json:"productCategory"`
				Comments        *string `json:"comments"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pir, err := s.service.UpdatePIR(r.Context(), session, pirID, UpdatePIRInput{
				Title:           body.Title,
				Description:     body.Description,
				ProductName:     body.ProductName,
				ProductCategory: body.ProductCategory,
				Comments:        body.Comments,
			})
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pirPayload(pir))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "pirs" {
		pirID := parts[2]
		switch parts[3] {
		case "transition":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			var body struct {
				Status       string `json:"status"`
				ReviewerID   string `json:"reviewerId"`
				ReviewerName string `json:"reviewerName"`
				ReviewNotes  string `json:"reviewNotes"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pir, err := s.service.ApplyTransition(r.Context(), session, pirID, TransitionInput{
				Target:       store.PIRStatus(body.Status),
				ReviewerID:   body.ReviewerID,
				ReviewerName: body.ReviewerName,
				ReviewNotes:  body.ReviewNotes,
			})
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pirPayload(pir))
			return
		case "assign-responder":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			var body struct {
				ResponderID string `json:"responderId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pir, err := s.service.AssignResponder(r.Context(), session, pirID, body.ResponderID)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pirPayload(pir))
			return
		case "tags":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			var body struct {
				Tags []struct {
					Name     string `json:"name"`
					Category string `json:"category"`
					Color    string `json:"color"`
				} `json:"tags"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			inputs := make([]TagInput, 0, len(body.Tags))
			for _, tag := range body.Tags {
				inputs = append(inputs, TagInput{Name: tag.Name, Category: tag.Category, Color: tag.Color})
			}
			pir, err := s.service.AddPIRTags(r.Context(), session, pirID, inputs)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pirPayload(pir))
			return
		case "questions":
			switch r.Method {
			case http.MethodGet:
				questions, err := s.service.ListQuestions(r.Context(), pirID)
				if err != nil {
					respondError(w, err)
					return
				}
				items := make([]map[string]any, 0, len(questions))
				for _, question := range questions {
					items = append(items, questionPayload(question))
				}
				writeJSON(w, http.StatusOK, map[string]any{"questions": items})
			case http.MethodPost:
				var body struct {
					Text     string `json:"text"`
					Category string `json:"category"`
					Required bool   `json:"required"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				question, err := s.service.CreateQuestion(r.Context(), session, pirID, CreateQuestionInput{
					Text:     body.Text,
					Category: body.Category,
					Required: body.Required,
				})
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, questionPayload(question))
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		case "attachments":
			s.handleAttachments(w, r, session, store.ParentPIR, pirID)
			return
		}
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "questions" {
		questionID := parts[2]
		switch parts[3] {
		case "answers":
			switch r.Method {
			case http.MethodGet:
				answers, err := s.service.ListAnswers(r.Context(), questionID)
				if err != nil {
					respondError(w, err)
					return
				}
				items := make([]map[string]any, 0, len(answers))
				for _, answer := range answers {
					items = append(items, answerPayload(answer))
				}
				writeJSON(w, http.StatusOK, map[string]any{"answers": items})
			case http.MethodPost:
				var body struct {
					Text string `json:"text"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				answer, err := s.service.CreateAnswer(r.Context(), session, questionID, CreateAnswerInput{Text: body.Text})
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, answerPayload(answer))
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		case "attachments":
			s.handleAttachments(w, r, session, store.ParentQuestion, questionID)
			return
		}
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "answers" && parts[3] == "attachments" {
		s.handleAttachments(w, r, session, store.ParentAnswer, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tags" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.DeleteTag(r.Context(), session, parts[2]); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "attachments" {
		attachmentID := parts[2]
		switch r.Method {
		case http.MethodGet:
			attachment, data, err := s.service.DownloadAttachment(r.Context(), attachmentID)
			if err != nil {
				respondError(w, err)
				return
			}
			contentType := attachment.FileType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.FileName))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
		case http.MethodDelete:
			if err := s.service.DeleteAttachment(r.Context(), session, attachmentID); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, session Session, parentType store.AttachmentParent, parentID string) {
	switch r.Method {
	case http.MethodGet:
		attachments, err := s.service.ListAttachments(r.Context(), parentType, parentID)
		if err != nil {
			respondError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(attachments))
		for _, attachment := range attachments {
			items = append(items, attachmentPayload(attachment))
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
			return
		}
		attachment, err := s.service.UploadAttachment(r.Context(), session, parentType, parentID, UploadAttachmentInput{
			FileName: header.Filename,
			FileType: header.Header.Get("Content-Type"),
			Data:     data,
		})
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, attachmentPayload(attachment))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
		Department  string `json:"department"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.AuthService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        body.Role,
		Department:  body.Department,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.AuthService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
