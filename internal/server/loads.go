package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
)

type createLoadRequest struct {
	CustomerID string          `json:"customer_id" binding:"required"`
	DriverID   string          `json:"driver_id"`
	TruckID    string          `json:"truck_id"`
	LoadNumber string          `json:"load_number" binding:"required"`
	Revenue    decimal.Decimal `json:"revenue"`
	DriverPay  decimal.Decimal `json:"driver_pay"`
	TotalMiles decimal.Decimal `json:"total_miles"`
	Weight     decimal.Decimal `json:"weight"`
}

func (s *Server) CreateLoad(c *gin.Context) {
	var req createLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if req.Revenue.IsNegative() || req.DriverPay.IsNegative() {
		AbortWithError(c, newValidationError("revenue", "invalid_amount", "amounts must not be negative"))
		return
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_id", "customer_id must be a valid id"))
		return
	}
	in := loaddomain.CreateLoadInput{
		CustomerID: customerID,
		LoadNumber: req.LoadNumber,
		Revenue:    req.Revenue,
		DriverPay:  req.DriverPay,
		TotalMiles: req.TotalMiles,
		Weight:     req.Weight,
	}
	if req.DriverID != "" {
		driverID, err := snowflake.ParseString(req.DriverID)
		if err != nil {
			AbortWithError(c, newValidationError("driver_id", "invalid_id", "driver_id must be a valid id"))
			return
		}
		in.DriverID = &driverID
	}
	if req.TruckID != "" {
		truckID, err := snowflake.ParseString(req.TruckID)
		if err != nil {
			AbortWithError(c, newValidationError("truck_id", "invalid_id", "truck_id must be a valid id"))
			return
		}
		in.TruckID = &truckID
	}

	item, err := s.loadSvc.CreateLoad(c.Request.Context(), companyIDFrom(c), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetLoadByID(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	item, err := s.loadRepo.FindLoadByID(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if item == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) MarkLoadDelivered(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	item, err := s.loadSvc.MarkDelivered(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) CompleteLoad(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.completionSvc.CompleteLoad(c.Request.Context(), companyIDFrom(c), loadID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type addDocumentRequest struct {
	Type    string `json:"type" binding:"required"`
	FileRef string `json:"file_ref" binding:"required"`
}

func (s *Server) AddLoadDocument(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	doc, err := s.loadSvc.AddDocument(c.Request.Context(), companyIDFrom(c), loadID, loaddomain.DocumentType(req.Type), req.FileRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": doc})
}

type addExpenseRequest struct {
	Type   string          `json:"type" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) AddLoadExpense(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req addExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if req.Amount.IsNegative() {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must not be negative"))
		return
	}

	exp, err := s.loadSvc.AddExpense(c.Request.Context(), companyIDFrom(c), loadID, loaddomain.ExpenseType(req.Type), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": exp})
}

func (s *Server) ApproveLoadExpense(c *gin.Context) {
	expenseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.loadSvc.ApproveExpense(c.Request.Context(), companyIDFrom(c), expenseID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (s *Server) ListLoadActivity(c *gin.Context) {
	loadID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	entries, err := s.activitySvc.ListByEntity(c.Request.Context(), companyIDFrom(c), "load", loadID.String(), 100)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
