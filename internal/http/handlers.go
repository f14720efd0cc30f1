package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"med-eval/internal/scoring"
)

// SchemaHandler publica la rúbrica de puntuación.
type SchemaHandler struct {
	schema *scoring.Schema
}

func NewSchemaHandler(schema *scoring.Schema) *SchemaHandler {
	if schema == nil {
		schema = scoring.Default()
	}
	return &SchemaHandler{schema: schema}
}

// GetSchema maneja GET /schema.
func (h *SchemaHandler) GetSchema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversation_count": scoring.ConversationCount,
		"min_score":          scoring.MinScore,
		"max_score":          scoring.MaxScore,
		"keys":               h.schema.Keys(),
		"categories":         h.schema.Categories(),
	})
}

// Health maneja GET /healthz.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
