// Package importer turns statement files and external ledger rows into
// canonical bank transactions. Every insert is idempotent on the
// (department, dedup key) pair, so any batch can be replayed safely.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/metrics"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
)

const (
	SourceFile = "FILE"
	sampleRows = 5
)

// RowError is a validation problem with one input row. Row is 1-based over
// data rows; zero means the problem concerns the whole file.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

type Importer struct {
	repo *repository.BankTransactionRepository
}

func New(repo *repository.BankTransactionRepository) *Importer {
	return &Importer{repo: repo}
}

type PreviewRequest struct {
	FileName string
	Data     []byte
	Mapping  map[string]string
}

type SampleRow struct {
	Row    int                     `json:"row"`
	Record *models.BankTransaction `json:"record,omitempty"`
	Errors []RowError              `json:"errors,omitempty"`
}

type Preview struct {
	FileName        string           `json:"file_name"`
	Headers         []string         `json:"headers"`
	HeaderRow       int              `json:"header_row"`
	Mapping         map[Field]string `json:"mapping"`
	MissingRequired []Field          `json:"missing_required"`
	MappingErrors   []RowError       `json:"mapping_errors,omitempty"`
	Sample          []SampleRow      `json:"sample"`
	TotalRows       int              `json:"total_rows"`
}

// Preview parses a file without writing anything so the caller can review
// and correct the column mapping.
func (im *Importer) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	tbl, err := readTable(req.FileName, req.Data, req.Mapping)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		FileName:        req.FileName,
		Headers:         tbl.headers,
		HeaderRow:       tbl.headerRow + 1,
		Mapping:         tbl.mapping.headerNames(tbl.headers),
		MissingRequired: tbl.mapping.missingRequired(),
		MappingErrors:   tbl.mappingErrors,
		Sample:          []SampleRow{},
		TotalRows:       len(tbl.rows),
	}
	if p.MissingRequired == nil {
		p.MissingRequired = []Field{}
	}

	for _, r := range tbl.rows {
		if len(p.Sample) == sampleRows {
			break
		}
		tx, rowErrs := parseRow(r.cells, tbl.mapping, r.num)
		p.Sample = append(p.Sample, SampleRow{Row: r.num, Record: tx, Errors: rowErrs})
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("file", req.FileName).
		Int("rows", p.TotalRows).
		Int("mapped_fields", len(p.Mapping)).
		Msg("import preview")
	return p, nil
}

type ImportRequest struct {
	DepartmentID   uuid.UUID
	OrganizationID *uuid.UUID
	FileName       string
	Source         string
	Data           []byte
	Mapping        map[string]string
}

type ImportResult struct {
	TotalRows   int         `json:"total_rows"`
	Imported    int         `json:"imported"`
	Skipped     int         `json:"skipped"`
	Errors      []RowError  `json:"errors"`
	ImportedIDs []uuid.UUID `json:"imported_ids"`
}

// Import parses and stores a statement file. Row-level problems end up in
// the result; an error is returned only when the file itself is unusable or
// the store fails.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.DepartmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: department_id is required", ErrInvalidRequest)
	}
	tbl, err := readTable(req.FileName, req.Data, req.Mapping)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{
		TotalRows:   len(tbl.rows),
		Errors:      []RowError{},
		ImportedIDs: []uuid.UUID{},
	}
	res.Errors = append(res.Errors, tbl.mappingErrors...)
	for _, f := range tbl.mapping.missingRequired() {
		res.Errors = append(res.Errors, RowError{Column: string(f), Message: "required column is not mapped"})
	}
	if len(res.Errors) > 0 {
		metrics.ImportRows.WithLabelValues("error").Add(float64(len(tbl.rows)))
		return res, nil
	}

	var records []Record
	for _, r := range tbl.rows {
		tx, rowErrs := parseRow(r.cells, tbl.mapping, r.num)
		if len(rowErrs) > 0 {
			res.Errors = append(res.Errors, rowErrs...)
			metrics.ImportRows.WithLabelValues("error").Inc()
			continue
		}
		records = append(records, Record{Row: r.num, Tx: tx})
	}

	source := req.Source
	if source == "" {
		source = SourceFile
	}
	ing, err := im.Ingest(ctx, records, IngestOptions{
		DepartmentID:   req.DepartmentID,
		OrganizationID: req.OrganizationID,
		Source:         source,
		FileName:       req.FileName,
	})
	if err != nil {
		return nil, err
	}

	res.Imported = ing.Created
	res.Skipped = ing.Skipped
	res.ImportedIDs = append(res.ImportedIDs, ing.CreatedIDs...)
	res.Errors = append(res.Errors, ing.Errors...)

	log := logger.FromContext(ctx)
	log.Info().
		Str("department_id", req.DepartmentID.String()).
		Str("file", req.FileName).
		Int("total_rows", res.TotalRows).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Msg("statement imported")
	return res, nil
}

// Record is a canonical transaction awaiting storage together with the input
// row it came from.
type Record struct {
	Row int
	Tx  *models.BankTransaction
}

type IngestOptions struct {
	DepartmentID   uuid.UUID
	OrganizationID *uuid.UUID
	Source         string
	FileName       string
	// EnrichExisting fills blank counterparty facts of a stored NEW record
	// when a duplicate row carries them.
	EnrichExisting bool
}

type IngestResult struct {
	Created    int
	Updated    int
	Skipped    int
	CreatedIDs []uuid.UUID
	Errors     []RowError
}

// Ingest stores canonical records. Within one call the first occurrence of a
// dedup key wins; later occurrences and keys already stored count as skipped.
func (im *Importer) Ingest(ctx context.Context, records []Record, opts IngestOptions) (*IngestResult, error) {
	log := logger.FromContext(ctx)
	res := &IngestResult{}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		tx := rec.Tx
		if msg := validateRecord(tx); msg != "" {
			res.Errors = append(res.Errors, RowError{Row: rec.Row, Message: msg})
			metrics.ImportRows.WithLabelValues("error").Inc()
			continue
		}

		prepare(tx, opts)
		if seen[tx.DedupKey] {
			res.Skipped++
			metrics.ImportRows.WithLabelValues("skipped").Inc()
			continue
		}
		seen[tx.DedupKey] = true

		created, err := im.repo.InsertIfAbsent(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("inserting row %d: %w", rec.Row, err)
		}
		if created {
			res.Created++
			res.CreatedIDs = append(res.CreatedIDs, tx.ID)
			metrics.ImportRows.WithLabelValues("imported").Inc()
			continue
		}

		if opts.EnrichExisting {
			updated, err := im.enrich(ctx, tx, opts.DepartmentID)
			if err != nil {
				return nil, err
			}
			if updated {
				res.Updated++
				metrics.ImportRows.WithLabelValues("updated").Inc()
				continue
			}
		}
		res.Skipped++
		metrics.ImportRows.WithLabelValues("skipped").Inc()
	}

	log.Debug().
		Str("department_id", opts.DepartmentID.String()).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("records ingested")
	return res, nil
}

func prepare(tx *models.BankTransaction, opts IngestOptions) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.DepartmentID = opts.DepartmentID
	if tx.OrganizationID == nil {
		tx.OrganizationID = opts.OrganizationID
	}
	if tx.PaymentSource == "" {
		tx.PaymentSource = models.SourceBank
	}
	tx.TransactionDate = truncateDay(tx.TransactionDate)
	tx.Amount = tx.Amount.Abs().Round(2)
	tx.Status = models.StatusNew
	tx.Version = 1
	tx.CategoryID = nil
	tx.ExpenseID = nil
	tx.ClearSuggestions()
	tx.ImportSource = opts.Source
	tx.ImportFileName = opts.FileName
	tx.DedupKey = DedupKey(tx)
}

func validateRecord(tx *models.BankTransaction) string {
	switch {
	case tx == nil:
		return "empty record"
	case tx.TransactionDate.IsZero():
		return "transaction date is missing"
	case !tx.TransactionType.Valid():
		return "transaction type must be CREDIT or DEBIT"
	case tx.PaymentSource != "" && !tx.PaymentSource.Valid():
		return "payment source must be BANK or CASH"
	}
	return checkAmountRange(tx.Amount)
}

// enrich copies counterparty facts the stored record lacks. Only NEW records
// are touched; anything a human already worked on is left alone.
func (im *Importer) enrich(ctx context.Context, incoming *models.BankTransaction, departmentID uuid.UUID) (bool, error) {
	existing, err := im.repo.FindByDedupKey(ctx, departmentID, incoming.DedupKey)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.Status != models.StatusNew {
		return false, nil
	}

	changed := false
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
			*dst = src
			changed = true
		}
	}
	fill(&existing.CounterpartyName, incoming.CounterpartyName)
	fill(&existing.CounterpartyTaxID, incoming.CounterpartyTaxID)
	fill(&existing.CounterpartyBankName, incoming.CounterpartyBankName)
	fill(&existing.CounterpartyBankBranch, incoming.CounterpartyBankBranch)
	if existing.DocumentDate == nil && incoming.DocumentDate != nil {
		existing.DocumentDate = incoming.DocumentDate
		changed = true
	}
	if !changed {
		return false, nil
	}

	existing.ClearSuggestions()
	return im.repo.CompareAndSwap(ctx, existing, existing.Version)
}

type dataRow struct {
	num   int
	cells []string
}

type table struct {
	headers       []string
	headerRow     int
	mapping       Mapping
	mappingErrors []RowError
	rows          []dataRow
}

func readTable(fileName string, data []byte, overrides map[string]string) (*table, error) {
	raw, err := ReadRows(fileName, data)
	if err != nil {
		return nil, err
	}
	headerRow, ok := findHeader(raw, overrides)
	if !ok {
		return nil, ErrHeaderNotFound
	}

	tbl := &table{
		headers:   raw[headerRow],
		headerRow: headerRow,
		mapping:   proposeMapping(raw[headerRow]),
	}
	tbl.mappingErrors = applyOverrides(tbl.mapping, tbl.headers, overrides)

	for i, cells := range raw[headerRow+1:] {
		if isEmptyRow(cells) {
			continue
		}
		tbl.rows = append(tbl.rows, dataRow{num: i + 1, cells: cells})
	}
	return tbl, nil
}
