package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisbulk/internal/session"
)

const maxUploadBytes = 20 << 20

var (
	errTemplateNotFound = errors.New("template not found")
	errUploadTooLarge   = errors.New("uploaded file is too large")
)

// TemplateSource lists the platform's saved message templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]compose.Template, error)
}

// SessionHandler serves the compose session: contacts, batches, message and dispatch.
type SessionHandler struct {
	manager   *session.Manager
	ingester  *contact.Ingester
	groups    contact.GroupSource
	templates TemplateSource
}

func NewSessionHandler(m *session.Manager, in *contact.Ingester, groups contact.GroupSource, templates TemplateSource) *SessionHandler {
	return &SessionHandler{manager: m, ingester: in, groups: groups, templates: templates}
}

// load resolves the :id path parameter. It writes the error response itself.
func (h *SessionHandler) load(c *gin.Context, handler string) (*session.Session, context.Context, bool) {
	id := c.Param("id")
	logCtx := logging.ContextWithHandler(c.Request.Context(), handler)
	logCtx = logging.ContextWithSessionID(logCtx, id)

	s, err := h.manager.Get(logCtx, id)
	if err != nil {
		respondError(c, logCtx, err)
		return nil, logCtx, false
	}
	return s, logCtx, true
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	s := h.manager.Create()
	logCtx := logging.ContextWithSessionID(c.Request.Context(), s.ID())
	slog.InfoContext(logCtx, "Compose session created")
	c.JSON(http.StatusCreated, s.View())
}

// GetSession handles GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, _, ok := h.load(c, "GetSession")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// DeleteSession handles DELETE /sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DeleteSession")
	if err := h.manager.Delete(logCtx, c.Param("id")); err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadBody returns the multipart "file" field, or the raw request body.
func uploadBody(c *gin.Context) (io.Reader, error) {
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxUploadBytes {
			return nil, fmt.Errorf("%w: limit is %d bytes", errUploadTooLarge, maxUploadBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		return bytes.NewReader(b), err
	}
	b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxUploadBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", errUploadTooLarge, maxUploadBytes)
	}
	return bytes.NewReader(b), nil
}

func mappingFromQuery(c *gin.Context) contact.Mapping {
	return contact.Mapping{
		Name:  c.Query("name_column"),
		Phone: c.Query("phone_column"),
		Email: c.Query("email_column"),
	}
}

// ingest appends a result to the queue and writes the response.
func (h *SessionHandler) ingest(c *gin.Context, logCtx context.Context, s *session.Session, res contact.Result, err error) {
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	added := s.AddContacts(res)
	view := s.View()
	slog.InfoContext(logCtx, "Contacts added to batch queue",
		slog.String("source", res.Source),
		slog.Int("contacts", len(res.Contacts)),
		slog.Int("dropped", res.Dropped),
		slog.Int("batches_added", added))

	c.JSON(http.StatusOK, dto.IngestResponse{
		Source:       res.Source,
		Added:        len(res.Contacts),
		Dropped:      res.Dropped,
		BatchesAdded: added,
		TotalQueued:  view.Total,
		Empty:        res.Empty,
	})
}

// UploadCSV handles POST /sessions/:id/contacts/csv
func (h *SessionHandler) UploadCSV(c *gin.Context) {
	s, logCtx, ok := h.load(c, "UploadCSV")
	if !ok {
		return
	}
	body, err := uploadBody(c)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	res, err := h.ingester.IngestCSV(body, mappingFromQuery(c))
	h.ingest(c, logCtx, s, res, err)
}

// UploadXLSX handles POST /sessions/:id/contacts/xlsx
func (h *SessionHandler) UploadXLSX(c *gin.Context) {
	s, logCtx, ok := h.load(c, "UploadXLSX")
	if !ok {
		return
	}
	body, err := uploadBody(c)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	res, err := h.ingester.IngestXLSX(body, mappingFromQuery(c))
	h.ingest(c, logCtx, s, res, err)
}

// UploadJSON handles POST /sessions/:id/contacts/json
func (h *SessionHandler) UploadJSON(c *gin.Context) {
	s, logCtx, ok := h.load(c, "UploadJSON")
	if !ok {
		return
	}
	body, err := uploadBody(c)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	res, err := h.ingester.IngestJSON(body)
	h.ingest(c, logCtx, s, res, err)
}

// AddText handles POST /sessions/:id/contacts/text
func (h *SessionHandler) AddText(c *gin.Context) {
	s, logCtx, ok := h.load(c, "AddText")
	if !ok {
		return
	}
	var req dto.TextContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res, err := h.ingester.IngestText(req.Text)
	h.ingest(c, logCtx, s, res, err)
}

// AddGroup handles POST /sessions/:id/contacts/group
func (h *SessionHandler) AddGroup(c *gin.Context) {
	s, logCtx, ok := h.load(c, "AddGroup")
	if !ok {
		return
	}
	var req dto.GroupContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res, err := h.ingester.IngestGroup(logCtx, h.groups, req.GroupID)
	h.ingest(c, logCtx, s, res, err)
}

// RemoveBatch handles DELETE /sessions/:id/batches/:batchID
func (h *SessionHandler) RemoveBatch(c *gin.Context) {
	s, logCtx, ok := h.load(c, "RemoveBatch")
	if !ok {
		return
	}
	logCtx = logging.ContextWithBatchID(logCtx, c.Param("batchID"))
	if err := s.RemoveBatch(c.Param("batchID")); err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// SetSelection handles PUT /sessions/:id/selection
func (h *SessionHandler) SetSelection(c *gin.Context) {
	s, logCtx, ok := h.load(c, "SetSelection")
	if !ok {
		return
	}
	var req dto.SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := s.SetSelection(req.BatchIDs); err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// SetMode handles PUT /sessions/:id/mode
func (h *SessionHandler) SetMode(c *gin.Context) {
	s, logCtx, ok := h.load(c, "SetMode")
	if !ok {
		return
	}
	var req dto.ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := s.SetMode(req.Mode); err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// compose applies an edit and answers with the new view, or the refusal and the unchanged message.
func (h *SessionHandler) compose(c *gin.Context, logCtx context.Context, s *session.Session, edit func(*compose.Composer) error) {
	if err := s.Compose(edit); err != nil {
		code := errorCode(err)
		if errors.Is(err, compose.ErrNeedsNewSegment) || errors.Is(err, compose.ErrSegmentLimit) {
			slog.InfoContext(logCtx, "Compose edit refused", slog.String("code", code))
			c.JSON(http.StatusUnprocessableEntity, dto.ComposeErrorResponse{
				Code:    code,
				Error:   err.Error(),
				Message: s.View().Message,
			})
			return
		}
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// SetDraft handles PUT /sessions/:id/draft
func (h *SessionHandler) SetDraft(c *gin.Context) {
	s, logCtx, ok := h.load(c, "SetDraft")
	if !ok {
		return
	}
	var req dto.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	h.compose(c, logCtx, s, func(cm *compose.Composer) error { return cm.SetDraft(req.Text) })
}

// CommitSegment handles POST /sessions/:id/segments
func (h *SessionHandler) CommitSegment(c *gin.Context) {
	s, logCtx, ok := h.load(c, "CommitSegment")
	if !ok {
		return
	}
	h.compose(c, logCtx, s, (*compose.Composer).CommitSegment)
}

// RemoveSegment handles DELETE /sessions/:id/segments/:index
func (h *SessionHandler) RemoveSegment(c *gin.Context) {
	s, logCtx, ok := h.load(c, "RemoveSegment")
	if !ok {
		return
	}
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment index"})
		return
	}
	h.compose(c, logCtx, s, func(cm *compose.Composer) error { return cm.RemoveSegment(idx) })
}

// ApplyTemplate handles POST /sessions/:id/template
func (h *SessionHandler) ApplyTemplate(c *gin.Context) {
	s, logCtx, ok := h.load(c, "ApplyTemplate")
	if !ok {
		return
	}
	var req dto.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	templates, err := h.templates.ListTemplates(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	for _, t := range templates {
		if t.ID == req.TemplateID {
			h.compose(c, logCtx, s, func(cm *compose.Composer) error { return cm.ApplyTemplate(t) })
			return
		}
	}
	respondError(c, logCtx, fmt.Errorf("%w: %s", errTemplateNotFound, req.TemplateID))
}

// GetQuote handles GET /sessions/:id/quote
func (h *SessionHandler) GetQuote(c *gin.Context) {
	s, logCtx, ok := h.load(c, "GetQuote")
	if !ok {
		return
	}
	q, built, err := s.Quote(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, dto.QuoteResponse{
		CostQuote:  q,
		Shortfall:  q.Shortfall().String(),
		Duplicates: built.Duplicates,
		Units:      len(built.Units),
	})
}

// StartDispatch handles POST /sessions/:id/dispatch
func (h *SessionHandler) StartDispatch(c *gin.Context) {
	s, logCtx, ok := h.load(c, "StartDispatch")
	if !ok {
		return
	}
	var req dto.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	logCtx = logging.ContextWithSenderID(logCtx, req.SenderID)

	run, err := s.StartDispatch(logCtx, req.SenderID)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.DispatchStartedResponse{RunID: run.ID()})
}

// RetryDispatch handles POST /sessions/:id/dispatch/retry
func (h *SessionHandler) RetryDispatch(c *gin.Context) {
	s, logCtx, ok := h.load(c, "RetryDispatch")
	if !ok {
		return
	}
	run, err := s.Retry(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.DispatchStartedResponse{RunID: run.ID()})
}

// StopDispatch handles POST /sessions/:id/dispatch/stop
func (h *SessionHandler) StopDispatch(c *gin.Context) {
	s, _, ok := h.load(c, "StopDispatch")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopping": s.Stop()})
}

// DispatchStatus handles GET /sessions/:id/dispatch
func (h *SessionHandler) DispatchStatus(c *gin.Context) {
	s, _, ok := h.load(c, "DispatchStatus")
	if !ok {
		return
	}
	items, running, summary := s.Status()
	c.JSON(http.StatusOK, dto.DispatchStatusResponse{Running: running, Items: items, Summary: summary})
}

// StreamDispatch handles GET /sessions/:id/dispatch/stream as server-sent events.
// It emits "progress" per unit update and a final "done" with the status.
func (h *SessionHandler) StreamDispatch(c *gin.Context) {
	s, logCtx, ok := h.load(c, "StreamDispatch")
	if !ok {
		return
	}
	updates, cancel := s.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for {
		select {
		case <-c.Request.Context().Done():
			slog.DebugContext(logCtx, "Progress stream client went away")
			return
		case u, open := <-updates:
			if !open {
				items, running, summary := s.Status()
				c.SSEvent("done", dto.DispatchStatusResponse{Running: running, Items: items, Summary: summary})
				c.Writer.Flush()
				return
			}
			c.SSEvent("progress", u)
			c.Writer.Flush()
		}
	}
}
