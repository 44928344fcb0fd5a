package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"identityserver/database"
	"identityserver/extractors"
	"identityserver/importer"
	"identityserver/resolution"
	apperrors "identityserver/server/errors"
	"identityserver/server/middleware"
)

// handleHealth reports liveness and registry reachability.
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  "registry database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"abbreviation_table": s.normalizer.TableVersion(),
	})
}

type resolveRequest struct {
	RawText         string   `json:"raw_text" binding:"required"`
	CorroboratingID string   `json:"corroborating_id"`
	NumericValue    *float64 `json:"numeric_value"`
	SourceTable     string   `json:"source_table"`
	SourceRowID     string   `json:"source_row_id"`
	DealText        bool     `json:"deal_text"`
}

// handleResolve resolves one raw text synchronously and persists the
// outcome.
func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("raw_text is required", err))
		return
	}

	row := resolution.RowInput{
		SourceTable:     req.SourceTable,
		SourceRowID:     req.SourceRowID,
		RawText:         req.RawText,
		CorroboratingID: extractors.NormalizeCorroboratingID(req.CorroboratingID),
		NumericValue:    req.NumericValue,
		DealText:        req.DealText,
	}
	if row.SourceTable == "" {
		row.SourceTable = "api"
	}
	if row.SourceRowID == "" {
		row.SourceRowID = uuid.New().String()
	}
	if row.CorroboratingID == "" {
		if id, err := extractors.ExtractCorroboratingID(req.RawText); err == nil {
			row.CorroboratingID = id
		}
	}

	result, err := s.engine.ResolveOne(c.Request.Context(), row)
	if err != nil {
		if errors.Is(err, resolution.ErrRegistryUnavailable) {
			middleware.HandleGinError(c, apperrors.NewServiceUnavailableError("registry temporarily unavailable", err))
			return
		}
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to resolve", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":            result.Kind,
		"confidence":      result.Confidence,
		"normalized_text": result.NormalizedText,
		"best":            result.Best,
		"candidates":      result.Ranked,
	})
}

type lotJSONRequest struct {
	SourceTable string                `json:"source_table" binding:"required"`
	Rows        []resolution.RowInput `json:"rows" binding:"required"`
}

// handleLotUpload accepts either a spreadsheet upload (multipart) or a
// JSON row list and processes the whole lot.
func (s *Server) handleLotUpload(c *gin.Context) {
	rows, err := s.lotRowsFromRequest(c)
	if err != nil {
		middleware.HandleGinError(c, err)
		return
	}

	summary, err := s.engine.ProcessLot(c.Request.Context(), rows)
	if err != nil {
		if summary != nil {
			// Cancelled mid-lot: report what was applied
			c.JSON(http.StatusOK, summary)
			return
		}
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to process lot", err))
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) lotRowsFromRequest(c *gin.Context) ([]resolution.RowInput, error) {
	if c.ContentType() == "application/json" {
		var req lotJSONRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apperrors.NewValidationError("source_table and rows are required", err)
		}
		for i := range req.Rows {
			req.Rows[i].SourceTable = req.SourceTable
			if req.Rows[i].SourceRowID == "" {
				req.Rows[i].SourceRowID = strconv.Itoa(i + 1)
			}
		}
		return req.Rows, nil
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, apperrors.NewValidationError("file is required", err)
	}
	sourceTable := c.PostForm("source_table")
	if sourceTable == "" {
		return nil, apperrors.NewValidationError("source_table is required", nil)
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("lot-%s%s", uuid.New().String(), filepath.Ext(fileHeader.Filename)))
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		return nil, apperrors.NewInternalError("failed to save uploaded file", err)
	}
	defer os.Remove(tmpPath)

	rows, err := importer.ParseLotExcelFile(tmpPath, sourceTable)
	if err != nil {
		return nil, apperrors.NewValidationError("failed to parse lot file", err)
	}
	return rows, nil
}

// handleReviewList returns all pending review items.
func (s *Server) handleReviewList(c *gin.Context) {
	items, err := s.db.PendingReviewItems()
	if err != nil {
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to list review items", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

type promoteRequest struct {
	EntityID string `json:"entity_id" binding:"required"`
	Operator string `json:"operator" binding:"required"`
}

// handleReviewPromote confirms a review item against an entity.
func (s *Server) handleReviewPromote(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("invalid review item id", err))
		return
	}

	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("entity_id and operator are required", err))
		return
	}

	alias, err := s.learner.Promote(itemID, req.EntityID, req.Operator)
	if err != nil {
		middleware.HandleGinError(c, mapReviewError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alias":  alias,
		"status": database.ReviewStatusPromoted,
	})
}

type rejectRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// handleReviewReject closes a review item without creating an alias.
func (s *Server) handleReviewReject(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("invalid review item id", err))
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("operator is required", err))
		return
	}

	if err := s.learner.Reject(itemID, req.Operator); err != nil {
		middleware.HandleGinError(c, mapReviewError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": database.ReviewStatusRejected,
	})
}

func mapReviewError(err error) error {
	switch {
	case errors.Is(err, database.ErrReviewItemNotFound):
		return apperrors.NewNotFoundError("review item not found", err)
	case errors.Is(err, database.ErrReviewItemClosed):
		return apperrors.NewConflictError("review item already decided", err)
	case errors.Is(err, database.ErrEntityNotFound):
		return apperrors.NewNotFoundError("entity not found", err)
	case errors.Is(err, database.ErrDuplicateActiveAlias):
		return apperrors.NewConflictError("alias text already owned by another entity", err)
	default:
		return apperrors.NewInternalError("review operation failed", err)
	}
}

// handleEntityList returns all canonical entities.
func (s *Server) handleEntityList(c *gin.Context) {
	entities, err := s.db.ListEntities()
	if err != nil {
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to list entities", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entities": entities,
		"total":    len(entities),
	})
}

type entityCreateRequest struct {
	ID             string   `json:"id"`
	CanonicalName  string   `json:"canonical_name" binding:"required"`
	ParentEntityID string   `json:"parent_entity_id"`
	ReferenceValue float64  `json:"reference_value"`
	Identifiers    []string `json:"identifiers"`
	Aliases        []string `json:"aliases"`
}

// handleEntityCreate registers a canonical entity with optional
// identifiers and curated aliases.
func (s *Server) handleEntityCreate(c *gin.Context) {
	var req entityCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleGinError(c, apperrors.NewValidationError("canonical_name is required", err))
		return
	}

	normalized := s.normalizer.Normalize(req.CanonicalName)
	if normalized == "" {
		middleware.HandleGinError(c, apperrors.NewValidationError("canonical name normalizes to empty text", nil))
		return
	}

	entity := &database.CanonicalEntity{
		ID:             req.ID,
		CanonicalName:  req.CanonicalName,
		NormalizedName: normalized,
		ParentEntityID: req.ParentEntityID,
		ReferenceValue: req.ReferenceValue,
	}
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}

	if err := s.db.CreateEntity(entity); err != nil {
		if errors.Is(err, database.ErrDuplicateActiveAlias) {
			middleware.HandleGinError(c, apperrors.NewConflictError("an entity with this normalized name already exists", err))
			return
		}
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to create entity", err))
		return
	}

	for _, identifier := range req.Identifiers {
		id := extractors.NormalizeCorroboratingID(identifier)
		if !extractors.IsUsableCorroboratingID(id) {
			continue
		}
		if err := s.db.AddIdentifier(entity.ID, id); err != nil {
			s.logger.Warn("Failed to attach identifier",
				"entity_id", entity.ID,
				"identifier", id,
				"error", err)
		}
	}

	for _, alias := range req.Aliases {
		aliasNorm := s.normalizer.Normalize(alias)
		if aliasNorm == "" || aliasNorm == normalized {
			continue
		}
		if err := s.db.CreateAlias(aliasNorm, alias, entity.ID, "curated-api", 1.0); err != nil {
			s.logger.Warn("Failed to attach alias",
				"entity_id", entity.ID,
				"alias_text", aliasNorm,
				"error", err)
		}
	}

	c.JSON(http.StatusCreated, entity)
}

// handleStats summarizes resolution outcomes per source table.
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.db.StatsBySourceTable()
	if err != nil {
		middleware.HandleGinError(c, apperrors.NewInternalError("failed to load stats", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source_tables": stats,
	})
}

// handleErrorStats exposes the API error metrics.
func (s *Server) handleErrorStats(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.GetErrorMetrics().GetMetrics())
}
