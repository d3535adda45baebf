package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	settlementdomain "github.com/adrijusxx/linehaul/internal/settlement/domain"
	"github.com/adrijusxx/linehaul/pkg/db/pagination"
)

type generateSettlementRequest struct {
	DriverID    string    `json:"driver_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

func (s *Server) GenerateSettlement(c *gin.Context) {
	var req generateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "driver_id, period_start and period_end are required"))
		return
	}
	driverID, err := snowflake.ParseString(strings.TrimSpace(req.DriverID))
	if err != nil {
		AbortWithError(c, newValidationError("driver_id", "invalid_id", "invalid driver id"))
		return
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		AbortWithError(c, newValidationError("period_end", "invalid_period", "period_end must be after period_start"))
		return
	}

	settlement, err := s.settlementSvc.GenerateSettlement(c.Request.Context(), companyIDFrom(c), driverID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": settlement})
}

type listSettlementsRequest struct {
	pagination.Pagination
	DriverID string `form:"driver_id"`
}

func (s *Server) ListSettlements(c *gin.Context) {
	var req listSettlementsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid query parameters"))
		return
	}

	listReq := settlementdomain.ListRequest{
		PageToken: req.PageToken,
		PageSize:  req.PageSize,
	}
	if strings.TrimSpace(req.DriverID) != "" {
		driverID, err := snowflake.ParseString(strings.TrimSpace(req.DriverID))
		if err != nil {
			AbortWithError(c, newValidationError("driver_id", "invalid_id", "invalid driver id"))
			return
		}
		listReq.DriverID = &driverID
	}

	resp, err := s.settlementSvc.ListSettlements(c.Request.Context(), companyIDFrom(c), listReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Settlements, "page_info": resp.PageInfo})
}

func (s *Server) GetSettlementByID(c *gin.Context) {
	settlementID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	settlement, err := s.settlementRepo.FindByID(c.Request.Context(), companyIDFrom(c), settlementID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if settlement == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	loads, err := s.loadRepo.ListLoadsBySettlement(c.Request.Context(), companyIDFrom(c), settlementID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"settlement": settlement, "loads": loads}})
}

type recalculateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) RecalculateSettlement(c *gin.Context) {
	settlementID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req recalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("reason", "missing_reason", "a recalculation reason is required"))
		return
	}

	settlement, err := s.settlementSvc.RecalculateSettlement(c.Request.Context(), companyIDFrom(c), settlementID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settlement})
}

func (s *Server) ListSettlementRevisions(c *gin.Context) {
	settlementID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	settlement, err := s.settlementRepo.FindByID(c.Request.Context(), companyIDFrom(c), settlementID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if settlement == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	diffs, err := s.settlementSvc.RevisionDiffs(settlement)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": diffs})
}
