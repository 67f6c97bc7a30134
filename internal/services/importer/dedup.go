package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"bank-reconciliation-backend/internal/models"
)

// DedupKey derives the natural identity of a statement row. Two rows with the
// same account, date, amount, direction, purpose text and document number are
// the same transaction regardless of the file they came from.
func DedupKey(tx *models.BankTransaction) string {
	account := ""
	if tx.AccountNumber != nil {
		account = strings.ToUpper(strings.TrimSpace(*tx.AccountNumber))
	}
	text := sha256.Sum256([]byte(normalizeText(tx.PaymentPurpose) + "|" + strings.TrimSpace(tx.DocumentNumber)))

	parts := []string{
		account,
		tx.TransactionDate.UTC().Format("2006-01-02"),
		tx.Amount.Abs().StringFixed(2),
		string(tx.TransactionType),
		hex.EncodeToString(text[:]),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
