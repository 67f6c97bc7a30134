package importer

import (
	"sort"
	"strings"
	"unicode"
)

// Field is a canonical statement column.
type Field string

const (
	FieldTransactionDate        Field = "transaction_date"
	FieldAmount                 Field = "amount"
	FieldDebitAmount            Field = "debit_amount"
	FieldCreditAmount           Field = "credit_amount"
	FieldTransactionType        Field = "transaction_type"
	FieldPaymentSource          Field = "payment_source"
	FieldPaymentPurpose         Field = "payment_purpose"
	FieldDocumentNumber         Field = "document_number"
	FieldDocumentDate           Field = "document_date"
	FieldCounterpartyName       Field = "counterparty_name"
	FieldCounterpartyTaxID      Field = "counterparty_tax_id"
	FieldCounterpartyBankName   Field = "counterparty_bank_name"
	FieldCounterpartyBankBranch Field = "counterparty_bank_branch"
	FieldAccountNumber          Field = "account_number"
)

var AllFields = []Field{
	FieldTransactionDate, FieldAmount, FieldDebitAmount, FieldCreditAmount,
	FieldTransactionType, FieldPaymentSource, FieldPaymentPurpose,
	FieldDocumentNumber, FieldDocumentDate,
	FieldCounterpartyName, FieldCounterpartyTaxID, FieldCounterpartyBankName, FieldCounterpartyBankBranch,
	FieldAccountNumber,
}

func (f Field) Valid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

var fieldAliases = map[Field][]string{
	FieldTransactionDate: {
		"date", "transaction date", "operation date", "posting date", "value date", "booking date",
		"expense date", "дата", "дата операции", "дата проводки", "дата платежа",
	},
	FieldAmount: {
		"amount", "sum", "transaction amount", "сумма", "сумма операции", "сумма платежа",
	},
	FieldDebitAmount: {
		"debit", "debit amount", "withdrawal", "withdrawals", "paid out",
		"дебет", "расход", "списание", "сумма по дебету",
	},
	FieldCreditAmount: {
		"credit", "credit amount", "deposit", "deposits", "paid in",
		"кредит", "приход", "поступление", "сумма по кредиту",
	},
	FieldTransactionType: {
		"type", "transaction type", "direction", "dr cr",
		"тип", "тип операции", "вид операции", "направление",
	},
	FieldPaymentSource: {
		"payment source", "source", "payment method", "источник", "способ оплаты",
	},
	FieldPaymentPurpose: {
		"purpose", "payment purpose", "description", "details", "narration", "memo",
		"назначение", "назначение платежа", "описание", "основание",
	},
	FieldDocumentNumber: {
		"document number", "document no", "doc number", "doc no", "reference", "ref",
		"номер документа", "№ документа", "номер", "№",
	},
	FieldDocumentDate: {
		"document date", "doc date", "дата документа",
	},
	FieldCounterpartyName: {
		"counterparty", "counterparty name", "payee", "payer", "beneficiary",
		"контрагент", "наименование контрагента", "получатель", "плательщик",
	},
	FieldCounterpartyTaxID: {
		"tax id", "inn", "tin", "counterparty tax id", "counterparty inn",
		"инн", "инн контрагента", "инн получателя", "инн плательщика",
	},
	FieldCounterpartyBankName: {
		"bank", "bank name", "counterparty bank",
		"банк", "банк контрагента", "банк получателя",
	},
	FieldCounterpartyBankBranch: {
		"branch", "bank branch", "bic", "филиал", "бик", "бик банка",
	},
	FieldAccountNumber: {
		"account", "account number", "account no", "iban",
		"счет", "номер счета", "расчетный счет", "счет организации",
	},
}

type alias struct {
	text  string
	field Field
}

var (
	exactAliases   = map[string]Field{}
	partialAliases []alias
)

func init() {
	for field, names := range fieldAliases {
		for _, name := range names {
			key := normalizeHeader(name)
			exactAliases[key] = field
			if len([]rune(key)) >= 3 {
				partialAliases = append(partialAliases, alias{text: key, field: field})
			}
		}
	}
	// Longest alias first so "дата документа" wins over "дата".
	sort.Slice(partialAliases, func(i, j int) bool {
		if len(partialAliases[i].text) != len(partialAliases[j].text) {
			return len(partialAliases[i].text) > len(partialAliases[j].text)
		}
		return partialAliases[i].text < partialAliases[j].text
	})
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "ё", "е")
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '№' {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

func detectField(header string) (Field, bool) {
	key := normalizeHeader(header)
	if key == "" {
		return "", false
	}
	if f, ok := exactAliases[key]; ok {
		return f, true
	}
	// Partial matches are on whole words so "получатель" does not match
	// "получателя".
	padded := " " + key + " "
	for _, a := range partialAliases {
		if strings.Contains(padded, " "+a.text+" ") {
			return a.field, true
		}
	}
	return "", false
}

// Mapping binds canonical fields to zero-based column indexes.
type Mapping map[Field]int

// proposeMapping maps each header cell to at most one field; the leftmost
// column wins when two headers look like the same field.
func proposeMapping(headers []string) Mapping {
	m := Mapping{}
	for i, h := range headers {
		f, ok := detectField(h)
		if !ok {
			continue
		}
		if _, taken := m[f]; taken {
			continue
		}
		m[f] = i
	}
	return m
}

// applyOverrides replaces auto-detected columns with caller-chosen header
// names. Unknown fields or headers are reported back.
func applyOverrides(m Mapping, headers []string, overrides map[string]string) []RowError {
	var errs []RowError
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := normalizeHeader(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	fields := make([]string, 0, len(overrides))
	for f := range overrides {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, name := range fields {
		field := Field(name)
		if !field.Valid() {
			errs = append(errs, RowError{Column: name, Message: "unknown field in column mapping"})
			continue
		}
		header := overrides[name]
		if strings.TrimSpace(header) == "" {
			delete(m, field)
			continue
		}
		col, ok := index[normalizeHeader(header)]
		if !ok {
			errs = append(errs, RowError{Column: name, Message: "mapped column " + header + " not found in file"})
			continue
		}
		m[field] = col
	}
	return errs
}

func (m Mapping) missingRequired() []Field {
	var missing []Field
	if _, ok := m[FieldTransactionDate]; !ok {
		missing = append(missing, FieldTransactionDate)
	}
	_, amount := m[FieldAmount]
	_, debit := m[FieldDebitAmount]
	_, credit := m[FieldCreditAmount]
	if !amount && !debit && !credit {
		missing = append(missing, FieldAmount)
	}
	return missing
}

// headerNames renders the mapping as field -> header text.
func (m Mapping) headerNames(headers []string) map[Field]string {
	out := make(map[Field]string, len(m))
	for f, col := range m {
		if col < len(headers) {
			out[f] = strings.TrimSpace(headers[col])
		}
	}
	return out
}

const headerSearchRows = 10

// findHeader returns the index of the first row, among the first few, that
// looks like a header. With explicit overrides a row containing every
// overridden header name also qualifies.
func findHeader(rows [][]string, overrides map[string]string) (int, bool) {
	limit := headerSearchRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		if len(proposeMapping(rows[i])) >= 2 {
			return i, true
		}
		if containsAllHeaders(rows[i], overrides) {
			return i, true
		}
	}
	return 0, false
}

func containsAllHeaders(row []string, overrides map[string]string) bool {
	wanted := 0
	present := make(map[string]bool, len(row))
	for _, cell := range row {
		present[normalizeHeader(cell)] = true
	}
	for _, header := range overrides {
		if strings.TrimSpace(header) == "" {
			continue
		}
		wanted++
		if !present[normalizeHeader(header)] {
			return false
		}
	}
	return wanted > 0
}
