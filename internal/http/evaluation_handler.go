package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"med-eval/internal/domain"
	"med-eval/internal/scoring"
	"med-eval/internal/service"
)

// EvaluationHandler expone el progreso de los evaluadores.
type EvaluationHandler struct {
	logger   *zap.Logger
	identity *service.IdentityService
	progress *service.ProgressStore
	jwtServ  *service.JWTService
}

func NewEvaluationHandler(logger *zap.Logger, identity *service.IdentityService, progress *service.ProgressStore, jwtServ *service.JWTService) *EvaluationHandler {
	return &EvaluationHandler{
		logger:   logger,
		identity: identity,
		progress: progress,
		jwtServ:  jwtServ,
	}
}

type failureResponse struct {
	ConversationID int    `json:"conversation_id"`
	Error          string `json:"error"`
}

// Submit maneja POST /evaluation con action login|save.
func (h *EvaluationHandler) Submit(c *gin.Context) {
	var req struct {
		Action        string                     `json:"action" binding:"required"`
		Username      string                     `json:"username"`
		Credential    string                     `json:"credential"`
		Password      string                     `json:"password"`
		Profile       *domain.ProfileInput       `json:"profile"`
		Conversations []domain.ConversationInput `json:"conversations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid evaluation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	credential := req.Credential
	if credential == "" {
		credential = req.Password
	}
	if strings.TrimSpace(req.Username) == "" || credential == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and credential are required"})
		return
	}

	switch req.Action {
	case "login":
		h.login(c, req.Username, credential)
	case "save":
		h.save(c, req.Username, credential, req.Profile, req.Conversations)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

func (h *EvaluationHandler) login(c *gin.Context, username, credential string) {
	ctx := c.Request.Context()
	evaluator, err := h.identity.Authenticate(ctx, username, credential)
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}

	ev, err := h.progress.GetEvaluatorWithRecords(ctx, evaluator.ID)
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}

	resp := gin.H{
		"evaluator":       ev.Evaluator,
		"records":         ev.Records,
		"completed_count": h.progress.CompletedCount(ev.Records),
	}
	if tokens, ok := h.issueTokens(evaluator); ok {
		resp["tokens"] = tokens
	}
	c.JSON(http.StatusOK, resp)
}

func (h *EvaluationHandler) save(c *gin.Context, username, credential string, profile *domain.ProfileInput, conversations []domain.ConversationInput) {
	ctx := c.Request.Context()
	evaluator, created, err := h.identity.AuthenticateOrRegister(ctx, username, credential, profile)
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}

	result, err := h.progress.MergeProgress(ctx, evaluator.ID, conversations)
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}
	count, err := h.progress.CompletionCount(ctx, evaluator.ID)
	if err != nil {
		h.logger.Error("completion count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read progress"})
		return
	}

	resp := mergeResponse(result)
	resp["evaluator_id"] = evaluator.ID
	resp["created"] = created
	resp["completed_count"] = count
	resp["submission_eligible"] = count == scoring.ConversationCount
	c.JSON(http.StatusOK, resp)
}

// List maneja GET /evaluation.
func (h *EvaluationHandler) List(c *gin.Context) {
	all, err := h.progress.ListAllEvaluators(c.Request.Context())
	if err != nil {
		h.logger.Error("list evaluators failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list evaluators"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluators": all})
}

// Get maneja GET /evaluation/:id.
func (h *EvaluationHandler) Get(c *gin.Context) {
	ev, err := h.progress.GetEvaluatorWithRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}
	count := h.progress.CompletedCount(ev.Records)
	c.JSON(http.StatusOK, gin.H{
		"evaluator":           ev.Evaluator,
		"records":             ev.Records,
		"completed_count":     count,
		"submission_eligible": count == scoring.ConversationCount,
	})
}

// Update maneja PUT /evaluation/:id: patch de perfil y merge opcional.
func (h *EvaluationHandler) Update(c *gin.Context) {
	var req struct {
		Profile       *domain.ProfilePatch       `json:"profile"`
		Credential    string                     `json:"credential"`
		Conversations []domain.ConversationInput `json:"conversations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var patch domain.ProfilePatch
	if req.Profile != nil {
		patch = *req.Profile
	}

	ctx := c.Request.Context()
	evaluator, err := h.identity.UpdateProfile(ctx, c.Param("id"), patch)
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}
	id := evaluator.ID
	if req.Credential != "" {
		if err := h.identity.RotateCredential(ctx, id, req.Credential); err != nil {
			h.writeIdentityError(c, err)
			return
		}
	}

	resp := gin.H{"evaluator": evaluator}
	if len(req.Conversations) > 0 {
		result, err := h.progress.MergeProgress(ctx, id, req.Conversations)
		if err != nil {
			h.writeIdentityError(c, err)
			return
		}
		for k, v := range mergeResponse(result) {
			resp[k] = v
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Delete maneja DELETE /evaluation/:id.
func (h *EvaluationHandler) Delete(c *gin.Context) {
	if err := h.identity.DeleteEvaluator(c.Request.Context(), c.Param("id")); err != nil {
		h.writeIdentityError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Export maneja GET /evaluation/:id/export.
func (h *EvaluationHandler) Export(c *gin.Context) {
	snap, err := h.progress.ExportSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeIdentityError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "evaluation_"+snap.Profile.Username+".json"))
	c.JSON(http.StatusOK, snap)
}

func (h *EvaluationHandler) issueTokens(evaluator domain.Evaluator) (service.TokenPair, bool) {
	if !h.jwtServ.Enabled() {
		return service.TokenPair{}, false
	}
	tokens, err := h.jwtServ.GeneratePair(service.Principal{
		ID:       evaluator.ID,
		Username: evaluator.Username,
		Role:     service.RoleEvaluator,
	})
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		return service.TokenPair{}, false
	}
	return tokens, true
}

func (h *EvaluationHandler) writeIdentityError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrEvaluatorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "evaluator not found"})
	case errors.Is(err, service.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	case errors.Is(err, service.ErrDuplicateUsername):
		c.JSON(http.StatusConflict, gin.H{"error": "username already registered"})
	case errors.Is(err, service.ErrProfileRequired),
		errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("evaluation request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func mergeResponse(result service.MergeResult) gin.H {
	failures := make([]failureResponse, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, failureResponse{ConversationID: f.ConversationID, Error: f.Err.Error()})
	}
	applied := result.Applied
	if applied == nil {
		applied = []int{}
	}
	skipped := result.Skipped
	if skipped == nil {
		skipped = []int{}
	}
	return gin.H{
		"applied":  applied,
		"skipped":  skipped,
		"failures": failures,
	}
}
