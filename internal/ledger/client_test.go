package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchTransactions_Pages(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("date_from"))
		assert.Equal(t, "40702", r.URL.Query().Get("account_number"))
		page := r.URL.Query().Get("page")
		mu.Lock()
		seen = append(seen, page)
		mu.Unlock()

		resp := transactionPage{HasMore: page == "1"}
		if page == "1" {
			resp.Data = []Transaction{{ID: "a", DateString: "2024-01-05", Amount: decimal.RequireFromString("-10.50")}}
		} else {
			resp.Data = []Transaction{{ID: "b", DateString: "2024-01-06T10:00:00Z", Amount: decimal.NewFromInt(7)}}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClient(Connection{BaseURL: srv.URL + "/api/", APIKey: "secret", AccountNumber: "40702"}, srv.Client())
	txs, err := c.FetchTransactions(context.Background(), Query{DateFrom: &from})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, seen)
	mu.Unlock()
	assert.True(t, decimal.RequireFromString("-10.5").Equal(txs[0].Amount))

	d, err := txs[1].Date()
	require.NoError(t, err)
	assert.Equal(t, 6, d.Day())
}

func TestFetchTransactions_Errors(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"bad_request","message":"date_from is invalid"}`))
	}))
	defer srv.Close()
	c := NewClient(Connection{BaseURL: srv.URL, APIKey: "k"}, srv.Client())

	_, err := c.FetchTransactions(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	status = http.StatusBadRequest
	_, err = c.FetchTransactions(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date_from is invalid")
}

func TestFetchTransactions_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := NewClient(Connection{BaseURL: srv.URL, APIKey: "k"}, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchTransactions(ctx, Query{})
	assert.Error(t, err)
}

func TestConnection_Validate(t *testing.T) {
	assert.NoError(t, Connection{BaseURL: "https://ledger.test", APIKey: "k"}.Validate())
	assert.Error(t, Connection{BaseURL: "", APIKey: "k"}.Validate())
	assert.Error(t, Connection{BaseURL: "ftp://ledger.test", APIKey: "k"}.Validate())
	assert.Error(t, Connection{BaseURL: "https://ledger.test"}.Validate())
}

func TestTransaction_Dates(t *testing.T) {
	tx := Transaction{ID: "x", DateString: "2024-02-03 10:11:12", DocumentDateString: "2024-02-01"}
	d, err := tx.Date()
	require.NoError(t, err)
	assert.Equal(t, time.February, d.Month())
	dd, err := tx.DocumentDate()
	require.NoError(t, err)
	require.NotNil(t, dd)
	assert.Equal(t, 1, dd.Day())

	_, err = (&Transaction{ID: "y", DateString: "03/02/2024"}).Date()
	assert.Error(t, err)
}
