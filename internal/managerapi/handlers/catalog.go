package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/wallet"
)

// GroupLister lists the platform's saved contact groups.
type GroupLister interface {
	ListContactGroups(ctx context.Context) ([]contact.Group, error)
}

// CatalogHandler proxies read-only platform data the compose UI needs.
type CatalogHandler struct {
	templates TemplateSource
	groups    GroupLister
	wallet    wallet.Service
}

func NewCatalogHandler(templates TemplateSource, groups GroupLister, w wallet.Service) *CatalogHandler {
	return &CatalogHandler{templates: templates, groups: groups, wallet: w}
}

// ListTemplates handles GET /templates
func (h *CatalogHandler) ListTemplates(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "ListTemplates")
	templates, err := h.templates.ListTemplates(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": templates})
}

// ListContactGroups handles GET /contact-groups
func (h *CatalogHandler) ListContactGroups(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "ListContactGroups")
	groups, err := h.groups.ListContactGroups(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups})
}

// GetWallet handles GET /wallet
func (h *CatalogHandler) GetWallet(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetWallet")
	snap, err := h.wallet.Snapshot(logCtx)
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	slog.DebugContext(logCtx, "Wallet snapshot served", slog.String("balance", snap.Balance.String()))
	c.JSON(http.StatusOK, snap)
}
