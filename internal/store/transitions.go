package store

import "frontdesk/queue-service/internal/models"

// served and skipped are terminal: no action accepts them as a source
// state, so a finished ticket can never move again.
var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"serve":     {models.StatusCalled},
	"skip":      {models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func ValidQuotaStatus(status string) bool {
	switch status {
	case models.QuotaOpen, models.QuotaClosed, models.QuotaBreak, models.QuotaFull:
		return true
	default:
		return false
	}
}
