package store

import "errors"

var (
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrClinicNotFound    = errors.New("clinic not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrQuotaNotFound     = errors.New("quota not found")
	ErrQuotaClosed       = errors.New("quota closed")
	ErrQuotaBreak        = errors.New("quota on break")
	ErrQuotaFull         = errors.New("quota full")
	ErrQuotaBelowCount   = errors.New("max quota below current count")
	ErrNoTicket          = errors.New("no waiting ticket")
	ErrInvalidState      = errors.New("invalid ticket state")
	ErrInvalidQuotaState = errors.New("invalid quota status")
)
