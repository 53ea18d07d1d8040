package mt940

import (
	"regexp"
	"strings"

	"github.com/Dan9191/bank-feed/internal/models"
)

// :86: information to account owner comes in three shapes: German "?NN"
// subfields, slash-delimited codes (/NAME/.../REMI/...) and free text.

var (
	subfieldRe  = regexp.MustCompile(`^\d{3}\?`)
	slashCodeRe = regexp.MustCompile(`/(NAME|IBAN|BIC|REMI|EREF|ORDP|BENM|CNTP|TRTP|PURP|MARF|CSID|RTRN|ADDR|ULTC|ULTD|ISDT)/`)
	sepaKeyRe   = regexp.MustCompile(`(EREF|KREF|MREF|CRED|DEBT|SVWZ|ABWA|ABWE|IBAN|BIC)\+`)
)

type information struct {
	name        string
	account     string
	remittance  string
	reference   string
	postingText string
}

func applyInformation(txn *models.RawTransaction, lines []string) {
	var info information
	joined := strings.Join(lines, "")
	switch {
	case subfieldRe.MatchString(joined):
		info = parseSubfields(joined)
	case slashCodeRe.MatchString(joined):
		info = parseSlashCodes(joined)
	default:
		info.remittance = strings.TrimSpace(strings.Join(lines, " "))
	}

	if info.name != "" {
		txn.CounterpartyName = info.name
	}
	if info.account != "" {
		txn.CounterpartyAccount = info.account
	}
	if txn.Reference == "" && info.reference != "" {
		txn.Reference = info.reference
	}
	if info.remittance != "" {
		txn.RemittanceInfo = info.remittance
	}

	description := info.remittance
	if description == "" {
		description = info.postingText
	}
	if description != "" {
		txn.Description = description
	}
	txn.Raw["information"] = strings.Join(lines, "\n")
}

func parseSubfields(s string) information {
	var (
		info  information
		remit []string
		names []string
	)
	parts := strings.Split(s, "?")
	for _, part := range parts[1:] {
		if len(part) < 2 {
			continue
		}
		code, value := part[:2], strings.TrimSpace(part[2:])
		switch {
		case code == "00":
			info.postingText = value
		case (code >= "20" && code <= "29") || (code >= "60" && code <= "63"):
			remit = append(remit, part[2:])
		case code == "31":
			info.account = value
		case code == "32" || code == "33":
			names = append(names, part[2:])
		}
	}

	info.name = strings.TrimSpace(strings.Join(names, ""))
	text := strings.Join(remit, "")
	if sepaKeyRe.MatchString(text) {
		keys := splitSEPAKeys(text)
		info.reference = keys["EREF"]
		if info.reference == "NOTPROVIDED" {
			info.reference = ""
		}
		info.remittance = keys["SVWZ"]
		if info.account == "" {
			info.account = keys["IBAN"]
		}
	} else {
		info.remittance = strings.TrimSpace(text)
	}
	return info
}

func splitSEPAKeys(s string) map[string]string {
	out := make(map[string]string)
	idx := sepaKeyRe.FindAllStringSubmatchIndex(s, -1)
	for i, m := range idx {
		end := len(s)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		out[s[m[2]:m[3]]] = strings.TrimSpace(s[m[1]:end])
	}
	return out
}

func parseSlashCodes(s string) information {
	var info information
	idx := slashCodeRe.FindAllStringSubmatchIndex(s, -1)
	for i, m := range idx {
		end := len(s)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		code := s[m[2]:m[3]]
		value := strings.Trim(s[m[1]:end], "/ ")
		switch code {
		case "NAME":
			info.name = value
		case "IBAN":
			info.account = value
		case "EREF":
			if value != "NOTPROVIDED" {
				info.reference = value
			}
		case "REMI":
			info.remittance = remittanceText(value)
		case "CNTP":
			// account/BIC/name/city
			parts := strings.Split(value, "/")
			if len(parts) > 0 && info.account == "" {
				info.account = parts[0]
			}
			if len(parts) > 2 && info.name == "" {
				info.name = parts[2]
			}
		case "TRTP":
			info.postingText = value
		}
	}
	return info
}

// remittanceText strips the USTD/STRD qualifiers of a REMI value
func remittanceText(v string) string {
	switch {
	case strings.HasPrefix(v, "USTD//"):
		return strings.TrimSpace(strings.TrimPrefix(v, "USTD//"))
	case strings.HasPrefix(v, "STRD/"):
		parts := strings.Split(v, "/")
		return strings.TrimSpace(parts[len(parts)-1])
	}
	return strings.TrimSpace(v)
}
