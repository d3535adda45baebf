package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	invoicedomain "github.com/adrijusxx/linehaul/internal/invoice/domain"
)

type generateInvoiceRequest struct {
	loadIDsRequest
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("load_ids", "missing_load_ids", "load_ids is required"))
		return
	}
	ids, err := req.parse()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.GenerateInvoice(c.Request.Context(), companyIDFrom(c), ids,
		invoicedomain.GenerateOptions{InvoiceNumber: req.InvoiceNumber})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": inv})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	inv, err := s.invoiceRepo.FindByID(c.Request.Context(), companyIDFrom(c), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inv == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ApproveInvoice(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	inv, err := s.invoiceSvc.ApproveInvoice(c.Request.Context(), companyIDFrom(c), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) FinalizeInvoice(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	remitTo, err := s.invoiceSvc.FinalizeInvoice(c.Request.Context(), companyIDFrom(c), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": remitTo})
}

func (s *Server) CheckInvoiceConsistency(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	diffs, err := s.invoiceSvc.CheckDataConsistency(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"consistent": len(diffs) == 0, "differences": diffs}})
}

func (s *Server) SyncInvoiceToLedger(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.invoiceSvc.SyncInvoiceToLedger(c.Request.Context(), companyIDFrom(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}
