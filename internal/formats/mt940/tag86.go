package mt940

import (
	"regexp"
	"strings"

	"github.com/bankfeeds/backend/internal/formats"
)

// Tag :86: carries structured free text for the transaction declared by
// the preceding :61: record, as /CODE/value/CODE/value/... subfields.

var subfieldCodes = []string{
	"TRTP", "BENM", "ORDP", "CNTP", "REMI", "EREF", "MARF", "CSID",
	"ADDR", "NAME", "ISDT", "IBAN", "BIC", "ID", "PREF", "NRTX", "PURP", "ULTC", "ULTD",
}

var subfieldRe = regexp.MustCompile(`/(` + strings.Join(subfieldCodes, "|") + `)/`)

func handleFreeText(st *parseState, value string) error {
	if len(st.stmt.Transactions) == 0 {
		return formats.NewValidationError(formatName, ":86: record with no preceding :61: record")
	}
	tx := &st.stmt.Transactions[len(st.stmt.Transactions)-1]

	value = strings.TrimSpace(strings.ReplaceAll(value, "\n", ""))
	if !strings.HasPrefix(value, "/") {
		// Unstructured free text: keep it as the narrative and prefer it
		// over the bare :61: reference as the line label.
		tx.Narration = value
		if tx.PaymentRef == "" {
			tx.PaymentRef = value
		}
		return nil
	}

	fields := splitSubfields(value)
	var counterparty string
	for _, code := range []string{"CNTP", "BENM", "ORDP"} {
		if v, ok := fields[code]; ok {
			counterparty = v
			break
		}
	}
	if counterparty != "" {
		parts := strings.Split(counterparty, "/")
		if len(parts) > 0 && parts[0] != "" {
			tx.AccountNumber = strings.TrimSpace(parts[0])
		}
		if len(parts) > 2 && parts[2] != "" {
			tx.PartnerName = strings.TrimSpace(parts[2])
		}
	}
	if name, ok := fields["NAME"]; ok && tx.PartnerName == "" {
		tx.PartnerName = strings.TrimSpace(firstElement(name))
	}
	if eref, ok := fields["EREF"]; ok {
		ref := strings.TrimSpace(firstElement(eref))
		if ref != "" && !strings.EqualFold(ref, "NOTPROVIDED") {
			tx.Ref = ref
			tx.UniqueImportID = ref
		}
	}
	if remi, ok := fields["REMI"]; ok {
		if narrative := remittanceInfo(remi); narrative != "" {
			tx.Narration = narrative
			tx.PaymentRef = narrative
		}
	}
	return nil
}

// splitSubfields breaks /CODE/value/CODE/value/... into a code→value
// map. Values keep their internal slashes; only known codewords open a
// new subfield.
func splitSubfields(value string) map[string]string {
	fields := make(map[string]string)
	locs := subfieldRe.FindAllStringSubmatchIndex(value, -1)
	for i, loc := range locs {
		code := value[loc[2]:loc[3]]
		end := len(value)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		fields[code] = value[loc[1]:end]
	}
	return fields
}

// remittanceInfo interprets the REMI subfield. A structured payload
// (/REMI/STRD/CUR/12345/ or /REMI/USTD//text/) takes the third element
// raw; the generic shape joins all non-empty elements with a slash.
func remittanceInfo(remi string) string {
	elements := strings.Split(remi, "/")
	if len(elements) >= 3 && (elements[0] == "STRD" || elements[0] == "USTD") {
		return strings.TrimSpace(elements[2])
	}
	var kept []string
	for _, el := range elements {
		if strings.TrimSpace(el) != "" {
			kept = append(kept, strings.TrimSpace(el))
		}
	}
	return strings.Join(kept, "/")
}

func firstElement(v string) string {
	first, _, _ := strings.Cut(v, "/")
	return first
}
