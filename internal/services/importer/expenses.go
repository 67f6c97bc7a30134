package importer

import (
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
)

// ExpenseUpload is the outcome of parsing an expense-ledger export.
type ExpenseUpload struct {
	TotalRows int              `json:"total_rows"`
	Expenses  []models.Expense `json:"-"`
	Errors    []RowError       `json:"errors"`
}

// ParseExpenses reads an expense export with the same readers and header
// heuristics as bank statements. Rows become expenses of departmentID; the
// purpose column is taken as the description.
func ParseExpenses(fileName string, data []byte, departmentID uuid.UUID, organizationID *uuid.UUID) (*ExpenseUpload, error) {
	tbl, err := readTable(fileName, data, nil)
	if err != nil {
		return nil, err
	}
	out := &ExpenseUpload{TotalRows: len(tbl.rows), Errors: []RowError{}}
	if missing := tbl.mapping.missingRequired(); len(missing) > 0 {
		for _, f := range missing {
			out.Errors = append(out.Errors, RowError{Column: string(f), Message: "required column is not mapped"})
		}
		return out, nil
	}

	for _, r := range tbl.rows {
		tx, errs := parseRow(r.cells, tbl.mapping, r.num)
		if len(errs) > 0 {
			out.Errors = append(out.Errors, errs...)
			continue
		}
		out.Expenses = append(out.Expenses, models.Expense{
			ID:                uuid.New(),
			DepartmentID:      departmentID,
			OrganizationID:    organizationID,
			Amount:            tx.Amount,
			ExpenseDate:       tx.TransactionDate,
			CounterpartyName:  tx.CounterpartyName,
			CounterpartyTaxID: tx.CounterpartyTaxID,
			Description:       tx.PaymentPurpose,
			DocumentNumber:    tx.DocumentNumber,
		})
	}
	return out, nil
}
