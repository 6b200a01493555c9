package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/payments-api/model"
	"github.com/learnhub/payments-api/services"
	"github.com/learnhub/payments-api/utils/middleware"
	"github.com/learnhub/payments-api/utils/response"
	"github.com/learnhub/payments-api/utils/validation"
	"github.com/shopspring/decimal"
)

// ExportArchiver stores a copy of generated CSV exports for compliance
type ExportArchiver interface {
	ArchiveExport(ctx context.Context, name string, data []byte) (string, error)
}

// TransactionHandler handles the admin transactions surface
type TransactionHandler struct {
	service   *services.ReconciliationService
	validator *validation.Validator
	archiver  ExportArchiver // optional
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(service *services.ReconciliationService, archiver ExportArchiver) *TransactionHandler {
	return &TransactionHandler{
		service:   service,
		validator: validation.NewValidator(),
		archiver:  archiver,
	}
}

// ResolveRequest is the body for POST /admin/transactions/:id/resolve
type ResolveRequest struct {
	Action string `json:"action" validate:"required,oneof=mark_completed cancel retry"`
	Note   string `json:"note" validate:"required,min=3,max=1000"`
}

// ManualPaymentRequest is the body for POST /admin/transactions/manual
type ManualPaymentRequest struct {
	UserEmail     string          `json:"user_email" validate:"required,email"`
	CourseID      uint            `json:"course_id" validate:"required,min=1"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=gateway cash bank_transfer pos other"`
	Note          string          `json:"note" validate:"required,min=3,max=1000"`
}

// ConfigureSplitRequest is the body for POST /admin/transactions/split/configure
type ConfigureSplitRequest struct {
	EnrollmentID  uint            `json:"enrollment_id" validate:"required,min=1"`
	TotalAmount   decimal.Decimal `json:"total_amount" validate:"required"`
	InitialAmount decimal.Decimal `json:"initial_amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=gateway cash bank_transfer pos other"`
	Note          string          `json:"note" validate:"required,min=3,max=1000"`
}

// RecordSplitRequest is the body for POST /admin/transactions/split/record
type RecordSplitRequest struct {
	EnrollmentID  uint            `json:"enrollment_id" validate:"required,min=1"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=gateway cash bank_transfer pos other"`
	Note          string          `json:"note" validate:"required,min=3,max=1000"`
}

// GatewayResultRequest is the body for POST /payments/gateway/verify
type GatewayResultRequest struct {
	Reference     string          `json:"reference" validate:"required"`
	GatewayStatus string          `json:"gateway_status" validate:"required"`
	Payload       json.RawMessage `json:"payload"`
}

// ListTransactions handles GET /admin/transactions
func (h *TransactionHandler) ListTransactions(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	filter := services.ListFilter{
		Status:   c.Query("status"),
		Search:   validation.SanitizeString(c.Query("search")),
		Page:     page,
		PageSize: limit,
	}

	transactions, total, stats, err := h.service.ListTransactions(c.Context(), filter)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	return response.Paginated(c, transactions, stats, response.CalculatePagination(page, limit, total))
}

// GetTransactionDetail handles GET /admin/transactions/:id
func (h *TransactionHandler) GetTransactionDetail(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid transaction ID")
	}

	detail, err := h.service.GetTransactionDetail(c.Context(), id)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	return response.Success(c, detail)
}

// ResolvePayment handles POST /admin/transactions/:id/resolve
func (h *TransactionHandler) ResolvePayment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid transaction ID")
	}

	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	admin, err := adminFromContext(c)
	if err != nil {
		return response.Unauthorized(c, "")
	}

	result, err := h.service.ResolvePayment(c.Context(), id, services.ResolveAction(req.Action), req.Note, admin)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	if result.Warning != "" {
		return response.SuccessWithWarning(c, result.Message, result.Warning, result)
	}
	return response.SuccessWithMessage(c, result.Message, result)
}

// RecordManualPayment handles POST /admin/transactions/manual
func (h *TransactionHandler) RecordManualPayment(c *fiber.Ctx) error {
	var req ManualPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	admin, err := adminFromContext(c)
	if err != nil {
		return response.Unauthorized(c, "")
	}

	result, err := h.service.RecordManualPayment(c.Context(), req.UserEmail, req.CourseID, req.Amount,
		model.PaymentMethod(req.PaymentMethod), req.Note, admin)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	if result.Warning != "" {
		return response.SuccessWithWarning(c, "Manual payment recorded", result.Warning, result)
	}
	return response.Created(c, result)
}

// ConfigureSplitPayment handles POST /admin/transactions/split/configure
func (h *TransactionHandler) ConfigureSplitPayment(c *fiber.Ctx) error {
	var req ConfigureSplitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	admin, err := adminFromContext(c)
	if err != nil {
		return response.Unauthorized(c, "")
	}

	result, err := h.service.ConfigureSplitPayment(c.Context(), req.EnrollmentID, req.TotalAmount,
		req.InitialAmount, model.PaymentMethod(req.PaymentMethod), req.Note, admin)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	if result.Warning != "" {
		return response.SuccessWithWarning(c, "Split payment plan configured", result.Warning, result)
	}
	return response.Created(c, result)
}

// RecordSplitPayment handles POST /admin/transactions/split/record
func (h *TransactionHandler) RecordSplitPayment(c *fiber.Ctx) error {
	var req RecordSplitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	admin, err := adminFromContext(c)
	if err != nil {
		return response.Unauthorized(c, "")
	}

	result, err := h.service.RecordSplitPayment(c.Context(), req.EnrollmentID, req.Amount,
		model.PaymentMethod(req.PaymentMethod), req.Note, admin)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	if result.Warning != "" {
		return response.SuccessWithWarning(c, "Instalment recorded", result.Warning, result)
	}
	return response.SuccessWithMessage(c, "Instalment recorded", result)
}

// LookupEnrollments handles GET /admin/transactions/lookup?email=
func (h *TransactionHandler) LookupEnrollments(c *fiber.Ctx) error {
	email := validation.SanitizeString(c.Query("email"))
	if !validation.ValidateEmail(email) {
		return response.BadRequest(c, "A valid email query parameter is required")
	}

	lookup, err := h.service.LookupEnrollmentsByEmail(c.Context(), email)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	return response.Success(c, lookup)
}

// ExportCSV handles GET /admin/transactions/export?status=
func (h *TransactionHandler) ExportCSV(c *fiber.Ctx) error {
	status := c.Query("status")

	var buf bytes.Buffer
	if _, err := h.service.ExportCSV(c.Context(), status, &buf); err != nil {
		return h.respondServiceError(c, err)
	}

	filename := fmt.Sprintf("transactions-%s.csv", time.Now().UTC().Format("20060102-150405"))

	if h.archiver != nil {
		data := make([]byte, buf.Len())
		copy(data, buf.Bytes())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if url, err := h.archiver.ArchiveExport(ctx, filename, data); err != nil {
				log.Printf("Failed to archive CSV export: %v", err)
			} else {
				log.Printf("Archived CSV export to %s", url)
			}
		}()
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, filename))
	return c.Send(buf.Bytes())
}

// GetReceipt handles GET /admin/transactions/:id/receipt
func (h *TransactionHandler) GetReceipt(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid transaction ID")
	}

	receipt, err := h.service.GetReceiptData(c.Context(), id)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	return response.Success(c, receipt)
}

// SendReceipt handles POST /admin/transactions/:id/receipt/send
func (h *TransactionHandler) SendReceipt(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid transaction ID")
	}

	admin, err := adminFromContext(c)
	if err != nil {
		return response.Unauthorized(c, "")
	}

	receipt, err := h.service.SendReceiptEmail(c.Context(), id, admin)
	if err != nil {
		if errors.Is(err, services.ErrDispatch) {
			return response.Error(c, fiber.StatusBadGateway, err.Error(), "DISPATCH_ERROR")
		}
		return h.respondServiceError(c, err)
	}

	return response.SuccessWithMessage(c, "Receipt sent", receipt)
}

// ApplyGatewayResult handles POST /payments/gateway/verify. It ingests the
// generic verification feed; gateway-specific webhook parsing lives with
// the gateway integration, not here.
func (h *TransactionHandler) ApplyGatewayResult(c *fiber.Ctx) error {
	var req GatewayResultRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	var verified bool
	switch req.GatewayStatus {
	case "success", "successful", "verified":
		verified = true
	case "failed", "declined", "reversed":
		verified = false
	default:
		return response.BadRequest(c, "Unknown gateway status")
	}

	result, err := h.service.ApplyGatewayResult(c.Context(), req.Reference, verified, req.Payload)
	if err != nil {
		return h.respondServiceError(c, err)
	}

	return response.SuccessWithMessage(c, result.Message, result)
}

func (h *TransactionHandler) respondServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrCourseNotFound),
		errors.Is(err, services.ErrEnrollmentNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrDuplicateReference):
		return response.Conflict(c, err.Error(), "DUPLICATE_REFERENCE")
	case errors.Is(err, services.ErrAlreadyConfigured):
		return response.Conflict(c, err.Error(), "ALREADY_CONFIGURED")
	case errors.Is(err, services.ErrNoPlan):
		return response.UnprocessableEntity(c, err.Error(), "NO_PLAN")
	case errors.Is(err, services.ErrInvalidTransition):
		return response.UnprocessableEntity(c, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, services.ErrMissingNote):
		return response.UnprocessableEntity(c, err.Error(), "MISSING_NOTE")
	case errors.Is(err, services.ErrInvalidAmount):
		return response.UnprocessableEntity(c, err.Error(), "INVALID_AMOUNT")
	case errors.Is(err, services.ErrInvalidMethod):
		return response.UnprocessableEntity(c, err.Error(), "INVALID_PAYMENT_METHOD")
	default:
		log.Printf("Transaction handler error: %v", err)
		return response.InternalServerError(c, "")
	}
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return uint(id), nil
}

func adminFromContext(c *fiber.Ctx) (services.Admin, error) {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return services.Admin{}, fmt.Errorf("no authenticated user")
	}
	return services.Admin{ID: user.ID, Name: user.Name}, nil
}
