package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	readinessdomain "github.com/adrijusxx/linehaul/internal/readiness/domain"
)

func readinessOptions(c *gin.Context) readinessdomain.Options {
	allowSplit, _ := strconv.ParseBool(c.Query("allow_brokerage_split"))
	return readinessdomain.Options{AllowBrokerageSplit: allowSplit}
}

func (s *Server) CheckLoadReadiness(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.readinessSvc.IsReadyToBill(c.Request.Context(), companyIDFrom(c), loadID, readinessOptions(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type readinessBatchRequest struct {
	loadIDsRequest
	AllowBrokerageSplit bool `json:"allow_brokerage_split"`
}

func (s *Server) CheckLoadsReadiness(c *gin.Context) {
	var req readinessBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("load_ids", "missing_load_ids", "load_ids is required"))
		return
	}
	ids, err := req.parse()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.readinessSvc.AreLoadsReadyToBill(c.Request.Context(), companyIDFrom(c), ids,
		readinessdomain.Options{AllowBrokerageSplit: req.AllowBrokerageSplit})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ValidateLoadsForInvoicing(c *gin.Context) {
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

	results, err := s.readinessSvc.ValidateLoadsForInvoicing(c.Request.Context(), companyIDFrom(c), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) DetectExpenseGaps(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	report, err := s.readinessSvc.DetectExpenseGaps(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
