package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) SyncLoadToAccounting(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.accountingSvc.SyncLoadToAccounting(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SyncBatchLoads(c *gin.Context) {
	var req loadIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("load_ids", "missing_load_ids", "load_ids is required"))
		return
	}
	ids, err := req.parse()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	results, err := s.accountingSvc.SyncBatchLoads(c.Request.Context(), companyIDFrom(c), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) RetryFailedSyncs(c *gin.Context) {
	summary, err := s.accountingSvc.RetryFailedSyncs(c.Request.Context(), companyIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) GetSyncStatistics(c *gin.Context) {
	stats, err := s.accountingSvc.GetSyncStatistics(c.Request.Context(), companyIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
