package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	billingholddomain "github.com/adrijusxx/linehaul/internal/billinghold/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
)

type applyHoldRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) ApplyBillingHold(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req applyHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("reason", "missing_reason", "a hold reason is required"))
		return
	}

	if err := s.billingHoldSvc.Apply(c.Request.Context(), companyIDFrom(c), loadID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "held"})
}

type clearHoldRequest struct {
	NewTotal        *decimal.Decimal `json:"new_total,omitempty"`
	RateDocumentRef string           `json:"rate_document_ref" binding:"required"`
}

func (s *Server) ClearBillingHold(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req clearHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("rate_document_ref", "missing_rate_document", "a corrected rate document is required"))
		return
	}

	item, err := s.billingHoldSvc.Clear(c.Request.Context(), companyIDFrom(c), loadID, billingholddomain.ClearInput{
		NewTotal:        req.NewTotal,
		RateDocumentRef: req.RateDocumentRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type addAccessorialRequest struct {
	Type   string          `json:"type" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) AddAccessorialCharge(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req addAccessorialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if !req.Amount.IsPositive() {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}

	charge, err := s.billingHoldSvc.AddAccessorialCharge(c.Request.Context(), companyIDFrom(c), loadID, loaddomain.ChargeType(req.Type), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": charge})
}

func (s *Server) CheckInvoicingEligibility(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	verdict, err := s.billingHoldSvc.CheckInvoicingEligibility(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": verdict})
}

type loadIDsRequest struct {
	LoadIDs []string `json:"load_ids" binding:"required"`
}

func (r loadIDsRequest) parse() ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(r.LoadIDs))
	for _, raw := range r.LoadIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			return nil, newValidationError("load_ids", "invalid_id", "invalid load id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) CheckInvoicingEligibilityBatch(c *gin.Context) {
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

	verdicts, err := s.billingHoldSvc.CheckInvoicingEligibilityBatch(c.Request.Context(), companyIDFrom(c), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": verdicts})
}
