package httpapi

import (
	"net/http"

	"github.com/halcyonlabs/deepresearch/internal/models"
)

// ModelsHandler lists the model catalog.
type ModelsHandler struct {
	registry *models.Registry
}

// NewModelsHandler wires the catalog endpoint.
func NewModelsHandler(registry *models.Registry) *ModelsHandler {
	return &ModelsHandler{registry: registry}
}

// HandleList returns the answering and reasoning catalogs with their
// defaults.
// GET /api/v1/models
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answering": h.registry.AnsweringModels(),
		"reasoning": h.registry.ReasoningModels(),
		"defaults": map[string]string{
			"answering": h.registry.DefaultAnswering(),
			"reasoning": h.registry.DefaultReasoning(),
		},
	})
}
