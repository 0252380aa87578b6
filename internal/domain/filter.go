package domain

import "strings"

// BotFilter selects registry entries. Zero-valued fields do not constrain.
type BotFilter struct {
	Name        string // case-insensitive substring
	GameAppID   int    // exact
	AccountName string // case-insensitive substring
}

// Matches reports whether rec satisfies every set field of f.
func (f BotFilter) Matches(rec BotRecord) bool {
	if f.Name != "" && !containsFold(rec.Identity.Name, f.Name) {
		return false
	}
	if f.GameAppID != 0 && rec.Identity.GameAppID != f.GameAppID {
		return false
	}
	if f.AccountName != "" && !containsFold(rec.Identity.AccountName, f.AccountName) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
