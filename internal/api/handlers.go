package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handleLatestScan returns the most recent in-memory scan result.
func (s *Server) handleLatestScan(c *gin.Context) {
	if s.scans == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanner not running"})
		return
	}
	result, ok := s.scans.LastResult()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan completed yet"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleScanHistory returns the most recent persisted scan.
func (s *Server) handleScanHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	candidates, err := s.repo.LatestScan(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("scan history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// handleRegimes returns the per-symbol regime labels of the latest scan.
func (s *Server) handleRegimes(c *gin.Context) {
	if s.scans == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanner not running"})
		return
	}
	result, ok := s.scans.LastResult()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"at":      result.At,
		"regimes": result.Regimes,
	})
}

// handleTopResults returns the best persisted experiment results for a symbol.
func (s *Server) handleTopResults(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}

	symbol := c.Param("symbol")
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	rows, err := s.repo.TopResults(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("results query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "results": rows})
}

// handleRunGrid triggers a grid search for a symbol.
func (s *Server) handleRunGrid(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest runner not configured"})
		return
	}

	var req GridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := c.Param("symbol")
	results, err := s.runner.RunGrid(c.Request.Context(), symbol, req)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("grid run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "results": results})
}
