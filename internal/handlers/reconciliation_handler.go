package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/classification"
	"bank-reconciliation-backend/internal/services/importer"
	"bank-reconciliation-backend/internal/services/ledgersync"
	"bank-reconciliation-backend/internal/services/matching"
	"bank-reconciliation-backend/internal/services/patterns"
	service "bank-reconciliation-backend/internal/services/reconciliation"
)

const dateLayout = "2006-01-02"

type ReconciliationHandler struct {
	service    *service.ReconciliationService
	importer   *importer.Importer
	matcher    *matching.Matcher
	classifier *classification.Classifier
	detector   *patterns.Detector
	sync       *ledgersync.Orchestrator
}

func NewReconciliationHandler(
	s *service.ReconciliationService,
	imp *importer.Importer,
	matcher *matching.Matcher,
	classifier *classification.Classifier,
	detector *patterns.Detector,
	sync *ledgersync.Orchestrator,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:    s,
		importer:   imp,
		matcher:    matcher,
		classifier: classifier,
		detector:   detector,
		sync:       sync,
	}
}

// respondError maps service errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, importer.ErrUnsupportedFormat),
		errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrHeaderNotFound),
		errors.Is(err, importer.ErrUnreadableFile),
		errors.Is(err, importer.ErrInvalidRequest):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log := logger.FromContext(c.Request.Context())
		log.Error().
			Err(err).
			Str("path", c.FullPath()).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid " + name)
	}
	return &id, nil
}

func parseDate(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, errors.New("invalid " + name + ", expected YYYY-MM-DD")
	}
	return &t, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("invalid " + name)
	}
	return b, nil
}

// parseFilter reads the filter shared by list, stats and analytics.
func parseFilter(c *gin.Context) (repository.TransactionFilter, error) {
	var f repository.TransactionFilter
	var err error

	if f.DepartmentID, err = queryUUID(c, "department_id"); err != nil {
		return f, err
	}
	if f.OrganizationID, err = queryUUID(c, "organization_id"); err != nil {
		return f, err
	}
	if f.CategoryID, err = queryUUID(c, "category_id"); err != nil {
		return f, err
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := models.TransactionStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				return f, errors.New("invalid status " + s)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := c.Query("type"); raw != "" {
		f.Type = models.TransactionType(strings.ToUpper(raw))
		if !f.Type.Valid() {
			return f, errors.New("invalid type")
		}
	}
	if raw := c.Query("payment_source"); raw != "" {
		f.PaymentSource = models.PaymentSource(strings.ToUpper(raw))
		if !f.PaymentSource.Valid() {
			return f, errors.New("invalid payment_source")
		}
	}
	if f.DateFrom, err = parseDate("date_from", c.Query("date_from")); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate("date_to", c.Query("date_to")); err != nil {
		return f, err
	}
	if f.OnlyUnprocessed, err = queryBool(c, "only_unprocessed"); err != nil {
		return f, err
	}
	if f.AccountIsNull, err = queryBool(c, "account_is_null"); err != nil {
		return f, err
	}
	f.AccountNumber = c.Query("account_number")
	f.Search = c.Query("search")
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}
