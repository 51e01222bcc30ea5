package models

import "time"

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	QuotaID        string     `json:"quota_id"`
	DoctorID       string     `json:"doctor_id,omitempty"`
	ClinicID       string     `json:"clinic_id,omitempty"`
	SequenceNumber int        `json:"sequence_number"`
	DisplayCode    string     `json:"display_code"`
	Status         string     `json:"status"`
	PatientID      *string    `json:"patient_id,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
	QuotaDate      string     `json:"quota_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	ServedAt       *time.Time `json:"served_at,omitempty"`
	SkippedAt      *time.Time `json:"skipped_at,omitempty"`
}

const (
	StatusWaiting = "waiting"
	StatusCalled  = "called"
	StatusServed  = "served"
	StatusSkipped = "skipped"
)
