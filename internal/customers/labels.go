package customers

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var contractStatusAliases = map[string]ContractStatus{
	"ativo":     ContractStatusActive,
	"ativa":     ContractStatusActive,
	"active":    ContractStatusActive,
	"aprovado":  ContractStatusApproved,
	"aprovada":  ContractStatusApproved,
	"approved":  ContractStatusApproved,
	"vencido":   ContractStatusExpired,
	"vencida":   ContractStatusExpired,
	"expired":   ContractStatusExpired,
	"cancelado": ContractStatusCancelled,
	"cancelada": ContractStatusCancelled,
	"cancelled": ContractStatusCancelled,
	"canceled":  ContractStatusCancelled,
	"pendente":  ContractStatusPending,
	"pending":   ContractStatusPending,
}

// ParseContractStatus maps a user supplied label onto the fixed set, ignoring case,
// surrounding whitespace and diacritics.
func ParseContractStatus(label string) (ContractStatus, error) {
	key, err := foldLabel(label)
	if err != nil {
		return "", fmt.Errorf("%w: contract status %q: %v", ErrInvalidInput, label, err)
	}
	status, ok := contractStatusAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown contract status %q", ErrInvalidInput, label)
	}
	return status, nil
}

// DisplayLabel renders the status for humans, e.g. "Aprovado".
func (s ContractStatus) DisplayLabel() string {
	return cases.Title(language.BrazilianPortuguese).String(string(s))
}

func foldLabel(label string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.TrimSpace(label))
	if err != nil {
		return "", err
	}
	return cases.Fold().String(stripped), nil
}
