package models

import "time"

// UsageEntry is one element of a usage record's recent log.
type UsageEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
}

// UsageRecord tracks consumption for a single API key. UsedToday is the
// admission counter compared against the account's daily limit and is reset
// by the scheduler; TotalUsed only ever grows.
type UsageRecord struct {
	APIKey    string       `json:"api_key"`
	UsedToday int          `json:"used_today"`
	TotalUsed int          `json:"total_used"`
	RecentLog []UsageEntry `json:"recent_log"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewUsageRecord returns an empty record for apiKey.
func NewUsageRecord(apiKey string) *UsageRecord {
	return &UsageRecord{
		APIKey:    apiKey,
		RecentLog: []UsageEntry{},
		UpdatedAt: time.Now().UTC(),
	}
}

// AppendEntry adds e to the recent log, dropping the oldest entries beyond max.
func (u *UsageRecord) AppendEntry(e UsageEntry, max int) {
	u.RecentLog = append(u.RecentLog, e)
	if max > 0 && len(u.RecentLog) > max {
		u.RecentLog = append([]UsageEntry(nil), u.RecentLog[len(u.RecentLog)-max:]...)
	}
}
