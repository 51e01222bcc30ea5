package store

import (
	"context"
	"encoding/json"
	"time"

	"frontdesk/queue-service/internal/models"
)

type IssueTicketInput struct {
	RequestID string
	DoctorID  string
	PatientID string
	Date      time.Time
	CreatedAt time.Time
}

type CallNextInput struct {
	RequestID string
	DoctorID  string
	Date      time.Time
	CalledAt  time.Time
}

type TicketActionInput struct {
	RequestID  string
	TicketID   string
	OccurredAt time.Time
}

type SetQuotaStatusInput struct {
	DoctorID string
	Date     time.Time
	Status   string
	MaxQuota int
}

type QueueStore interface {
	IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, models.DailyQuota, bool, error)
	ServeTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, int, error)
	GetOrCreateQuota(ctx context.Context, doctorID string, date time.Time) (models.DailyQuota, error)
	SetQuotaStatus(ctx context.Context, input SetQuotaStatusInput) (models.DailyQuota, error)
	GenerateDailyQuotas(ctx context.Context, date time.Time) (int, error)
	ListQuotas(ctx context.Context, date time.Time) ([]models.DailyQuota, error)
	SnapshotTickets(ctx context.Context, doctorID string, date time.Time) ([]models.Ticket, error)
	ListOutboxEvents(ctx context.Context, after int64, limit int) ([]OutboxEvent, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error)
}

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	ClinicID  string          `json:"clinic_id"`
	DoctorID  string          `json:"doctor_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventTicketIssued  = "ticket.issued"
	EventTicketCalled  = "ticket.called"
	EventTicketServed  = "ticket.served"
	EventTicketSkipped = "ticket.skipped"
	EventQuotaStatus   = "quota.status"
)

// DateKey renders a calendar date the way the store binds it. All quota
// lookups take an explicit date so day boundaries stay testable.
func DateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
