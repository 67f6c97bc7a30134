package importer

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/models"
)

var maxAmount = decimal.New(1, 13)

var (
	errEmptyValue   = errors.New("value is empty")
	errInvalidValue = errors.New("invalid number")
)

// parseAmount accepts bank-export spellings such as "1 234,56", "1,234.56",
// "$-12.00", "100 RUB" and "(50.00)". A currency symbol or code may only
// stand at either end of the cell; letters or signs inside the number make
// the value invalid. The returned value carries the sign.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return decimal.Zero, errEmptyValue
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	body, minus, err := stripAmountAffixes(s)
	if err != nil {
		return decimal.Zero, err
	}
	if minus {
		if negative {
			return decimal.Zero, errInvalidValue
		}
		negative = true
	}

	var b strings.Builder
	digits := 0
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ',' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '\'':
		default:
			return decimal.Zero, errInvalidValue
		}
	}
	if digits == 0 {
		return decimal.Zero, errInvalidValue
	}

	num := normalizeSeparators(b.String())
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, errInvalidValue
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// localCurrencyWords are non-ISO currency spellings seen in exports.
var localCurrencyWords = map[string]bool{
	"руб": true,
	"р":   true,
	"грн": true,
	"тг":  true,
}

func isCurrencyWord(w string) bool {
	w = strings.ToLower(strings.TrimSuffix(w, "."))
	if localCurrencyWords[w] {
		return true
	}
	if len(w) != 3 {
		return false
	}
	for _, r := range w {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// stripAmountAffixes peels currency symbols, currency codes and one sign
// off both ends of s.
func stripAmountAffixes(s string) (string, bool, error) {
	rs := []rune(s)
	minus, signed := false, false
	takeSign := func(r rune) (bool, error) {
		if r != '-' && r != '−' && r != '+' {
			return false, nil
		}
		if signed {
			return false, errInvalidValue
		}
		signed = true
		minus = r != '+'
		return true, nil
	}

	for {
		rs = []rune(strings.TrimSpace(string(rs)))
		if len(rs) == 0 {
			return "", minus, nil
		}
		first, last := rs[0], rs[len(rs)-1]
		if ok, err := takeSign(first); err != nil {
			return "", false, err
		} else if ok {
			rs = rs[1:]
			continue
		}
		if ok, err := takeSign(last); err != nil {
			return "", false, err
		} else if ok {
			rs = rs[:len(rs)-1]
			continue
		}
		changed := false
		if unicode.Is(unicode.Sc, first) {
			rs, changed = rs[1:], true
		} else if unicode.IsLetter(first) {
			n := 0
			for n < len(rs) && unicode.IsLetter(rs[n]) {
				n++
			}
			if n < len(rs) && rs[n] == '.' {
				n++
			}
			if !isCurrencyWord(string(rs[:n])) {
				return "", false, errInvalidValue
			}
			rs, changed = rs[n:], true
		}
		if len(rs) > 0 {
			last = rs[len(rs)-1]
			if unicode.Is(unicode.Sc, last) {
				rs, changed = rs[:len(rs)-1], true
			} else if unicode.IsLetter(last) || (last == '.' && len(rs) > 1 && unicode.IsLetter(rs[len(rs)-2])) {
				n := len(rs)
				if rs[n-1] == '.' {
					n--
				}
				for n > 0 && unicode.IsLetter(rs[n-1]) {
					n--
				}
				if !isCurrencyWord(string(rs[n:])) {
					return "", false, errInvalidValue
				}
				rs, changed = rs[:n], true
			}
		}
		if !changed {
			return string(rs), minus, nil
		}
	}
}

// normalizeSeparators turns a number with mixed grouping and decimal marks
// into plain "1234.56" form. The right-most mark is the decimal separator
// unless it is followed by exactly three digits and is the only mark.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"2.1.2006",
	"02.01.06",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// parseDate returns the UTC calendar date of a statement cell. Day-first
// layouts are tried before anything else; Excel serial numbers are accepted
// as a last resort.
func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	if t, ok := parseExcelSerial(s); ok {
		return t, nil
	}
	return time.Time{}, errors.New("unrecognized date " + strconv.Quote(s))
}

// parseExcelSerial converts days since 1899-12-30. Only plausible statement
// years (1954..2118) are accepted so that stray numbers do not turn into dates.
func parseExcelSerial(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 20000 || f > 80000 {
		return time.Time{}, false
	}
	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(f)), true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseType(raw string) (models.TransactionType, bool) {
	switch normalizeHeader(raw) {
	case "credit", "cr", "c", "in", "income", "incoming", "deposit",
		"кредит", "приход", "поступление", "зачисление":
		return models.TypeCredit, true
	case "debit", "dr", "d", "out", "outgoing", "expense", "withdrawal",
		"дебет", "расход", "списание":
		return models.TypeDebit, true
	}
	switch strings.TrimSpace(raw) {
	case "+":
		return models.TypeCredit, true
	case "-":
		return models.TypeDebit, true
	}
	return "", false
}

func parseSource(raw string) (models.PaymentSource, bool) {
	switch normalizeHeader(raw) {
	case "", "bank", "transfer", "card", "wire", "банк", "безнал", "безналичные", "перевод":
		return models.SourceBank, true
	case "cash", "наличные", "касса", "нал":
		return models.SourceCash, true
	}
	return "", false
}

// parseRow turns one data row into a canonical record. Problems are reported
// per column; a row with any error yields no record.
func parseRow(row []string, m Mapping, rowNum int) (*models.BankTransaction, []RowError) {
	var errs []RowError
	fail := func(f Field, msg string) {
		errs = append(errs, RowError{Row: rowNum, Column: string(f), Message: msg})
	}
	cell := func(f Field) string {
		col, ok := m[f]
		if !ok || col >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[col])
	}

	tx := &models.BankTransaction{
		ID:      uuid.New(),
		Status:  models.StatusNew,
		Version: 1,
	}

	if d, err := parseDate(cell(FieldTransactionDate)); err != nil {
		if errors.Is(err, errEmptyValue) {
			fail(FieldTransactionDate, "transaction date is empty")
		} else {
			fail(FieldTransactionDate, err.Error())
		}
	} else {
		tx.TransactionDate = d
	}

	amount, amountType, field, msg := resolveAmount(cell, m)
	if msg != "" {
		fail(field, msg)
	}

	if raw := cell(FieldTransactionType); raw != "" {
		t, ok := parseType(raw)
		if !ok {
			fail(FieldTransactionType, "unrecognized transaction type "+strconv.Quote(raw))
		}
		tx.TransactionType = t
	} else {
		tx.TransactionType = amountType
	}

	if src, ok := parseSource(cell(FieldPaymentSource)); ok {
		tx.PaymentSource = src
	} else {
		fail(FieldPaymentSource, "unrecognized payment source "+strconv.Quote(cell(FieldPaymentSource)))
	}

	if raw := cell(FieldDocumentDate); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			fail(FieldDocumentDate, err.Error())
		} else {
			tx.DocumentDate = &d
		}
	}

	tx.Amount = amount
	tx.PaymentPurpose = cell(FieldPaymentPurpose)
	tx.DocumentNumber = cell(FieldDocumentNumber)
	tx.CounterpartyName = cell(FieldCounterpartyName)
	tx.CounterpartyTaxID = cell(FieldCounterpartyTaxID)
	tx.CounterpartyBankName = cell(FieldCounterpartyBankName)
	tx.CounterpartyBankBranch = cell(FieldCounterpartyBankBranch)
	if acct := cell(FieldAccountNumber); acct != "" {
		tx.AccountNumber = &acct
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return tx, nil
}

// resolveAmount reads either the signed amount column or the debit/credit
// pair. It returns the absolute amount and the type implied by the columns.
func resolveAmount(cell func(Field) string, m Mapping) (decimal.Decimal, models.TransactionType, Field, string) {
	if _, ok := m[FieldAmount]; ok {
		d, err := parseAmount(cell(FieldAmount))
		if err != nil {
			return decimal.Zero, "", FieldAmount, amountMessage(err)
		}
		if msg := checkAmountRange(d); msg != "" {
			return decimal.Zero, "", FieldAmount, msg
		}
		if d.IsNegative() {
			return d.Abs().Round(2), models.TypeDebit, "", ""
		}
		return d.Round(2), models.TypeCredit, "", ""
	}

	debit, debitErr := parseAmount(cell(FieldDebitAmount))
	credit, creditErr := parseAmount(cell(FieldCreditAmount))
	hasDebit := debitErr == nil && !debit.IsZero()
	hasCredit := creditErr == nil && !credit.IsZero()

	switch {
	case debitErr != nil && !errors.Is(debitErr, errEmptyValue):
		return decimal.Zero, "", FieldDebitAmount, amountMessage(debitErr)
	case creditErr != nil && !errors.Is(creditErr, errEmptyValue):
		return decimal.Zero, "", FieldCreditAmount, amountMessage(creditErr)
	case hasDebit && hasCredit:
		return decimal.Zero, "", FieldDebitAmount, "both debit and credit amounts are set"
	case hasDebit:
		if msg := checkAmountRange(debit); msg != "" {
			return decimal.Zero, "", FieldDebitAmount, msg
		}
		return debit.Abs().Round(2), models.TypeDebit, "", ""
	case hasCredit:
		if msg := checkAmountRange(credit); msg != "" {
			return decimal.Zero, "", FieldCreditAmount, msg
		}
		return credit.Abs().Round(2), models.TypeCredit, "", ""
	}
	return decimal.Zero, "", FieldAmount, "amount is empty"
}

func amountMessage(err error) string {
	if errors.Is(err, errEmptyValue) {
		return "amount is empty"
	}
	return "amount is not a number"
}

func checkAmountRange(d decimal.Decimal) string {
	abs := d.Abs().Round(2)
	if abs.IsZero() {
		return "amount must not be zero"
	}
	if abs.GreaterThan(maxAmount) {
		return "amount is out of range"
	}
	return ""
}
