// Package ledger talks to the external accounting ledger that bank
// transactions are synchronized from.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	transactionsPath = "/transactions"
	defaultPageSize  = 200
	maxPages         = 1000
	defaultTimeout   = 60 * time.Second
)

var ErrUnauthorized = errors.New("ledger rejected the api key")

// Connection holds what a caller supplies to reach one ledger account.
type Connection struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	AccountNumber string `json:"account_number,omitempty"`
}

func (c Connection) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q is not an http(s) url", c.BaseURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

type Client struct {
	httpClient *http.Client
	conn       Connection
	pageSize   int
}

// NewClient builds a client for conn. A nil httpClient gets a default one.
func NewClient(conn Connection, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		conn:       conn,
		pageSize:   defaultPageSize,
	}
}

type Query struct {
	DateFrom *time.Time
	DateTo   *time.Time
}

// Transaction is one ledger row as the ledger API returns it.
type Transaction struct {
	ID                 string          `json:"id"`
	DateString         string          `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Type               string          `json:"type"`
	Purpose            string          `json:"purpose"`
	DocumentNumber     string          `json:"document_number"`
	DocumentDateString string          `json:"document_date"`
	CounterpartyName   string          `json:"counterparty_name"`
	CounterpartyTaxID  string          `json:"counterparty_tax_id"`
	CounterpartyBank   string          `json:"counterparty_bank"`
	CounterpartyBranch string          `json:"counterparty_bank_branch"`
	AccountNumber      string          `json:"account_number"`
	PaymentSource      string          `json:"payment_source"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse date '%s'", s)
}

// Date parses the booking date.
func (t *Transaction) Date() (time.Time, error) {
	if t.DateString == "" {
		return time.Time{}, fmt.Errorf("transaction %s has no date", t.ID)
	}
	return parseDate(t.DateString)
}

// DocumentDate parses the document date; nil when absent.
func (t *Transaction) DocumentDate() (*time.Time, error) {
	if t.DocumentDateString == "" {
		return nil, nil
	}
	d, err := parseDate(t.DocumentDateString)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type transactionPage struct {
	Data    []Transaction `json:"data"`
	Page    int           `json:"page"`
	HasMore bool          `json:"has_more"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchTransactions pages through the ledger until it reports no more data.
func (c *Client) FetchTransactions(ctx context.Context, q Query) ([]Transaction, error) {
	var all []Transaction
	for page := 1; page <= maxPages; page++ {
		resp, err := c.fetchPage(ctx, q, page)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if !resp.HasMore || len(resp.Data) == 0 {
			return all, nil
		}
	}
	return nil, fmt.Errorf("ledger returned more than %d pages", maxPages)
}

func (c *Client) fetchPage(ctx context.Context, q Query, page int) (*transactionPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(c.pageSize))
	if q.DateFrom != nil {
		params.Set("date_from", q.DateFrom.Format("2006-01-02"))
	}
	if q.DateTo != nil {
		params.Set("date_to", q.DateTo.Format("2006-01-02"))
	}
	if c.conn.AccountNumber != "" {
		params.Set("account_number", c.conn.AccountNumber)
	}
	endpoint := strings.TrimRight(c.conn.BaseURL, "/") + transactionsPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.conn.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || (errResp.Error == "" && errResp.Message == "") {
			return nil, fmt.Errorf("ledger request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("ledger error (status %d): %s %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	var out transactionPage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}
