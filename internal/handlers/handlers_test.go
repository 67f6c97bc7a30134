package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/ledger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/routes"
	"bank-reconciliation-backend/internal/services/importer"
	"bank-reconciliation-backend/internal/services/ledgersync"
	"bank-reconciliation-backend/internal/testutil"
)

const statement = `Date;Amount;Purpose;Counterparty
15.01.2024;-1 200,50;Office rent January;Romashka LLC
16.01.2024;abc;Broken row;Nobody
17.01.2024;3000,00;Client payment;Acme
`

type stubLedger struct {
	rows []ledger.Transaction
}

func (s stubLedger) FetchTransactions(context.Context, ledger.Query) ([]ledger.Transaction, error) {
	return s.rows, nil
}

type server struct {
	router *gin.Engine
	svc    *routes.Services
	dept   uuid.UUID
	ledger *stubLedger
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	s := &server{dept: uuid.New(), ledger: &stubLedger{}}
	factory := func(ledger.Connection) ledgersync.Fetcher { return s.ledger }
	s.svc = routes.NewServices(testutil.NewDB(t), config.DefaultEngine(), factory)
	s.router = routes.NewRouter(zerolog.Nop(), nil, s.svc)
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "bob")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) upload(t *testing.T, path, fileName, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type txEnvelope struct {
	Transaction models.BankTransaction `json:"transaction"`
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestImportCategorizeApprove(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/categories", gin.H{
		"department_id": s.dept, "code": "RENT", "name": "Rent", "keywords": []string{"rent"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Category models.BudgetCategory `json:"category"`
	}
	decode(t, w, &created)

	w = s.upload(t, "/api/transactions/import", "statement.csv", statement, map[string]string{
		"department_id": s.dept.String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var imported importer.ImportResult
	decode(t, w, &imported)
	assert.Equal(t, 3, imported.TotalRows)
	assert.Equal(t, 2, imported.Imported)
	require.Len(t, imported.Errors, 1)
	assert.Equal(t, 2, imported.Errors[0].Row)

	w = s.do(t, http.MethodGet, "/api/transactions?status=new&department_id="+s.dept.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(2), page.Total)

	rent := imported.ImportedIDs[0]
	base := "/api/transactions/" + rent.String()

	w = s.do(t, http.MethodGet, base+"/category-suggestions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var suggestions struct {
		Suggestions []struct {
			CategoryID uuid.UUID `json:"category_id"`
		} `json:"suggestions"`
	}
	decode(t, w, &suggestions)
	require.NotEmpty(t, suggestions.Suggestions)
	assert.Equal(t, created.Category.ID, suggestions.Suggestions[0].CategoryID)

	w = s.do(t, http.MethodPost, base+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/categorize", gin.H{"category_id": created.Category.ID, "version": 7})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/categorize", gin.H{"category_id": created.Category.ID, "version": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env txEnvelope
	decode(t, w, &env)
	assert.Equal(t, models.StatusCategorized, env.Transaction.Status)
	assert.Equal(t, int64(2), env.Transaction.Version)

	w = s.do(t, http.MethodPatch, base, gin.H{"status": "approved", "notes": "checked"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &env)
	assert.Equal(t, models.StatusApproved, env.Transaction.Status)
	assert.Equal(t, "checked", env.Transaction.Notes)

	w = s.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		History []models.TransactionAuditLog `json:"history"`
	}
	decode(t, w, &history)
	require.Len(t, history.History, 2)
	for _, entry := range history.History {
		assert.Equal(t, "bob", entry.PerformedBy)
	}

	w = s.do(t, http.MethodGet, "/api/transactions/stats?department_id="+s.dept.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
	decode(t, w, &stats)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["APPROVED"])
	assert.Equal(t, int64(1), stats.ByStatus["NEW"])
}

func TestImportRejectsCorruptWorkbook(t *testing.T) {
	s := newServer(t)
	corrupt := "PK but not really a workbook"

	w := s.upload(t, "/api/transactions/import/preview", "statement.xlsx", corrupt, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = s.upload(t, "/api/transactions/import", "statement.xlsx", corrupt,
		map[string]string{"department_id": s.dept.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestPreviewRejectsUnsupportedFile(t *testing.T) {
	s := newServer(t)

	w := s.upload(t, "/api/transactions/import/preview", "statement.pdf", "%PDF", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.upload(t, "/api/transactions/import/preview", "statement.csv", statement, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var preview importer.Preview
	decode(t, w, &preview)
	assert.Equal(t, 3, preview.TotalRows)
	assert.Empty(t, preview.MissingRequired)

	w = s.upload(t, "/api/transactions/import", "statement.csv", statement, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/transactions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/transactions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = s.do(t, http.MethodGet, "/api/transactions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/transactions/bulk/status", gin.H{"ids": []string{uuid.NewString()}, "status": "WAT"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/transactions/bulk/status", gin.H{"ids": []string{}, "status": "IGNORED"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	missing := uuid.New()
	w = s.do(t, http.MethodPost, "/api/transactions/bulk/status", gin.H{"ids": []uuid.UUID{missing}, "status": "IGNORED"})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		TotalCount  int `json:"total_count"`
		FailedCount int `json:"failed_count"`
		Failures    []struct {
			ID   uuid.UUID `json:"id"`
			Code string    `json:"code"`
		} `json:"failures"`
	}
	decode(t, w, &res)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, missing, res.Failures[0].ID)
	assert.Equal(t, "not_found", res.Failures[0].Code)
}

func TestExpensesAndMatches(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/expenses", gin.H{
		"department_id": s.dept, "amount": "0", "expense_date": "2024-01-15",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/expenses", gin.H{
		"department_id": s.dept, "amount": "1200.50", "expense_date": "2024-01-15",
		"counterparty_name": "Romashka LLC",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Expense models.Expense `json:"expense"`
	}
	decode(t, w, &created)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(created.Expense.Amount))

	w = s.upload(t, "/api/transactions/import", "statement.csv", statement, map[string]string{
		"department_id": s.dept.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var imported importer.ImportResult
	decode(t, w, &imported)
	rent := imported.ImportedIDs[0]

	w = s.do(t, http.MethodGet, "/api/transactions/"+rent.String()+"/matches?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var matches struct {
		Matches []struct {
			Expense models.Expense `json:"expense"`
			Score   float64        `json:"score"`
		} `json:"matches"`
	}
	decode(t, w, &matches)
	require.Len(t, matches.Matches, 1)
	assert.Equal(t, created.Expense.ID, matches.Matches[0].Expense.ID)

	w = s.do(t, http.MethodPost, "/api/transactions/"+rent.String()+"/link", gin.H{"expense_id": created.Expense.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var linked struct {
		Transaction     models.BankTransaction `json:"transaction"`
		CategoryMissing bool                   `json:"category_missing"`
	}
	decode(t, w, &linked)
	assert.Equal(t, models.StatusMatched, linked.Transaction.Status)
	assert.True(t, linked.CategoryMissing)

	w = s.do(t, http.MethodGet, "/api/expenses?department_id="+s.dept.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.Expense `json:"items"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Items, 1)
}

func TestSyncLifecycle(t *testing.T) {
	s := newServer(t)
	s.ledger.rows = []ledger.Transaction{{
		ID:               "L-1",
		DateString:       "2024-02-01",
		Amount:           decimal.NewFromInt(-500),
		Purpose:          "Fuel",
		CounterpartyName: "North Station",
	}}

	w := s.do(t, http.MethodPost, "/api/transactions/sync", gin.H{"department_id": s.dept})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/transactions/sync", gin.H{
		"base_url": "https://ledger.test", "api_key": "secret", "department_id": s.dept,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started struct {
		TaskID uuid.UUID `json:"task_id"`
		Status string    `json:"status"`
	}
	decode(t, w, &started)
	assert.Equal(t, "STARTED", started.Status)
	s.svc.Sync.Wait()

	w = s.do(t, http.MethodGet, "/api/transactions/sync/"+started.TaskID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var task models.SyncTask
	decode(t, w, &task)
	assert.Equal(t, models.SyncCompleted, task.Status)
	assert.Equal(t, 1, task.Fetched)
	assert.Equal(t, 1, task.Created)

	w = s.do(t, http.MethodGet, "/api/transactions/sync/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
