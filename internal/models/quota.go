package models

type DailyQuota struct {
	QuotaID      string `json:"quota_id"`
	DoctorID     string `json:"doctor_id"`
	QuotaDate    string `json:"quota_date"`
	Status       string `json:"status"`
	MaxQuota     int    `json:"max_quota"`
	CurrentCount int    `json:"current_count"`
}

const (
	QuotaOpen   = "open"
	QuotaClosed = "closed"
	QuotaBreak  = "break"
	QuotaFull   = "full"
)

// EffectiveStatus is what issuance logic sees: a quota whose count has
// reached its limit is full no matter what status staff stored.
func (q DailyQuota) EffectiveStatus() string {
	if q.CurrentCount >= q.MaxQuota {
		return QuotaFull
	}
	return q.Status
}
