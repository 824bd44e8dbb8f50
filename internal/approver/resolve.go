package approver

import (
	"strings"
	"unicode"

	"carguard-backend/internal/store"
)

// minSuffixDigits is the shortest partial phone number accepted for a suffix
// match.
const minSuffixDigits = 6

// Resolve maps a free-text "who approved" token from the device channel to
// one of the request's eligible approvers. Match order, first match wins:
//
//  1. exact phone match (raw token or its digits)
//  2. suffix match on the token's digits, at least minSuffixDigits long
//  3. case-insensitive relation label match
//  4. case-insensitive name match
//
// The precedence is deliberate best-effort fallback behavior, not a security
// boundary. Returns nil when nothing matches.
func Resolve(members []store.MemberContact, who string) *store.MemberContact {
	token := strings.TrimSpace(who)
	if token == "" {
		return nil
	}

	digits := digitsOnly(token)

	for i := range members {
		if members[i].Phone != "" && (members[i].Phone == token || members[i].Phone == digits) {
			return &members[i]
		}
	}

	if len(digits) >= minSuffixDigits {
		for i := range members {
			if members[i].Phone != "" && strings.HasSuffix(members[i].Phone, digits) {
				return &members[i]
			}
		}
	}

	for i := range members {
		if strings.EqualFold(members[i].Relation, token) {
			return &members[i]
		}
	}

	for i := range members {
		if strings.EqualFold(members[i].Name, token) {
			return &members[i]
		}
	}

	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
