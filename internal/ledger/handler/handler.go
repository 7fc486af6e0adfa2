// Package handler exposes the ledger over HTTP: append for producers, query
// and verification for auditors, and anchor inspection.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tcredex/ledgerd/internal/anchor"
	"github.com/tcredex/ledgerd/internal/auth"
	"github.com/tcredex/ledgerd/internal/ledger/model"
	"github.com/tcredex/ledgerd/internal/ledger/repository"
	"github.com/tcredex/ledgerd/internal/ledger/service"
	"go.uber.org/zap"
)

// LedgerHandler wires the ledger service into gin routes.
type LedgerHandler struct {
	svc       *service.LedgerService
	publisher *anchor.Publisher
	tokens    *auth.TokenIssuer
	logger    *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. publisher may be nil when no
// anchor targets are configured; the on-demand anchor route then reports 503.
func NewLedgerHandler(svc *service.LedgerService, publisher *anchor.Publisher, tokens *auth.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, publisher: publisher, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group. Reads are
// public; appending requires the append scope, and audit hand-off surfaces
// (extract, on-demand anchoring) require the audit scope.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/events", h.QueryEvents)
		l.GET("/events/:id", h.GetEvent)
		l.GET("/entities/:type/:id", h.EntityHistory)
		l.GET("/verify", h.Verify)
		l.GET("/tip", h.Tip)
		l.GET("/anchors", h.Anchors)

		l.POST("/events", auth.RequireScope(h.tokens, auth.ScopeAppend), h.AppendEvent)
		l.GET("/extract", auth.RequireScope(h.tokens, auth.ScopeAudit), h.Extract)
		l.POST("/anchors/run", auth.RequireScope(h.tokens, auth.ScopeAudit), h.RunAnchors)
	}
}

// Overview handles GET /ledger — chain length and current tip.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.svc.CountEvents(ctx)
	if err != nil {
		h.logger.Error("ledger count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	resp := gin.H{"events": count}
	tip, err := h.svc.GetLatestHash(ctx)
	switch {
	case err == nil:
		resp["tip"] = tip
	case errors.Is(err, repository.ErrNotFound):
		// empty ledger
	default:
		h.logger.Error("ledger tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger tip"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AppendEvent handles POST /ledger/events.
func (h *LedgerHandler) AppendEvent(c *gin.Context) {
	var input model.EventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// api_key actors default to the key id the token was issued for.
	if input.ActorType == model.ActorAPIKey && input.ActorID == "" {
		if claims := auth.ClaimsFrom(c); claims != nil {
			input.ActorID = claims.Subject
		}
	}

	ev, err := h.svc.LogEvent(c.Request.Context(), &input)
	if err != nil {
		if isTaxonomyError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("append ledger event", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store unavailable"})
		return
	}

	RecordLedgerAppend(string(ev.Action))
	c.JSON(http.StatusCreated, ev)
}

// QueryEvents handles GET /ledger/events with filter query params.
func (h *LedgerHandler) QueryEvents(c *gin.Context) {
	filter, ok := h.filterFromQuery(c)
	if !ok {
		return
	}

	events, err := h.svc.QueryEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("query ledger events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	if events == nil {
		events = []model.LedgerEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GetEvent handles GET /ledger/events/:id.
func (h *LedgerHandler) GetEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}

	ev, err := h.svc.GetEvent(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		h.logger.Error("get ledger event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// EntityHistory handles GET /ledger/entities/:type/:id.
func (h *LedgerHandler) EntityHistory(c *gin.Context) {
	entityType := model.EntityType(c.Param("type"))
	if !entityType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity type"})
		return
	}

	events, err := h.svc.GetEntityHistory(c.Request.Context(), entityType, c.Param("id"))
	if err != nil {
		h.logger.Error("entity history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	if events == nil {
		events = []model.LedgerEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Verify handles GET /ledger/verify?start_id=&end_id= — recomputes the chain
// over the range and returns the verification result. A tampered chain is a
// 200 with valid=false; only a failed store read is an error.
func (h *LedgerHandler) Verify(c *gin.Context) {
	startID, ok := h.int64Query(c, "start_id")
	if !ok {
		return
	}
	endID, ok := h.int64Query(c, "end_id")
	if !ok {
		return
	}

	requestedBy := c.Query("requested_by")
	if requestedBy == "" {
		if claims := auth.ClaimsFrom(c); claims != nil {
			requestedBy = claims.Subject
		} else {
			requestedBy = c.ClientIP()
		}
	}

	result, err := h.svc.VerifyChain(c.Request.Context(), startID, endID, requestedBy)
	if err != nil {
		h.logger.Error("verify chain", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not fetch events for verification"})
		return
	}

	RecordVerification(result.Valid)
	c.JSON(http.StatusOK, result)
}

// Extract handles GET /ledger/extract — full event list plus boundary hashes
// for external audit hand-off.
func (h *LedgerHandler) Extract(c *gin.Context) {
	filter, ok := h.filterFromQuery(c)
	if !ok {
		return
	}

	extractedBy := "unknown"
	if claims := auth.ClaimsFrom(c); claims != nil {
		extractedBy = claims.Subject
	}

	extract, err := h.svc.GenerateExtract(c.Request.Context(), filter, extractedBy)
	if errors.Is(err, service.ErrEmptyExtract) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no events match the extract criteria"})
		return
	}
	if err != nil {
		h.logger.Error("generate extract", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate extract"})
		return
	}
	c.JSON(http.StatusOK, extract)
}

// Tip handles GET /ledger/tip — the latest event id, hash, and timestamp.
func (h *LedgerHandler) Tip(c *gin.Context) {
	tip, err := h.svc.GetLatestHash(c.Request.Context())
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger is empty"})
		return
	}
	if err != nil {
		h.logger.Error("ledger tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger tip"})
		return
	}
	c.JSON(http.StatusOK, tip)
}

// Anchors handles GET /ledger/anchors?limit= — recent anchor receipts.
func (h *LedgerHandler) Anchors(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	anchors, err := h.svc.GetAnchors(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list anchors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list anchors"})
		return
	}
	if anchors == nil {
		anchors = []model.LedgerAnchor{}
	}
	c.JSON(http.StatusOK, gin.H{"anchors": anchors, "count": len(anchors)})
}

// RunAnchors handles POST /ledger/anchors/run — publishes the current tip to
// every configured target immediately instead of waiting for the schedule.
func (h *LedgerHandler) RunAnchors(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no anchor targets configured"})
		return
	}
	receipts := h.publisher.RunOnce(c.Request.Context())
	if receipts == nil {
		receipts = []model.LedgerAnchor{}
	}
	c.JSON(http.StatusOK, gin.H{"recorded": receipts, "count": len(receipts)})
}

func (h *LedgerHandler) filterFromQuery(c *gin.Context) (model.EventFilter, bool) {
	var f model.EventFilter
	f.EntityType = model.EntityType(c.Query("entity_type"))
	if f.EntityType != "" && !f.EntityType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity type"})
		return f, false
	}
	f.EntityID = c.Query("entity_id")
	f.ActorID = c.Query("actor_id")
	f.Action = model.Action(c.Query("action"))
	if f.Action != "" && !f.Action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return f, false
	}

	for name, dst := range map[string]*time.Time{
		"start_time": &f.StartTime,
		"end_time":   &f.EndTime,
	} {
		if raw := c.Query(name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC3339"})
				return f, false
			}
			*dst = ts
		}
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if raw := c.Query(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
				return f, false
			}
			*dst = n
		}
	}
	return f, true
}

func (h *LedgerHandler) int64Query(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return n, true
}

func isTaxonomyError(err error) bool {
	return errors.Is(err, model.ErrUnknownAction) ||
		errors.Is(err, model.ErrUnknownActorType) ||
		errors.Is(err, model.ErrUnknownEntityType) ||
		errors.Is(err, model.ErrMissingActorID) ||
		errors.Is(err, model.ErrMissingEntityID)
}
