package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"frontdesk/queue-service/internal/models"
	"frontdesk/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txRetryLimit = 3

type Store struct {
	pool            *pgxpool.Pool
	defaultMaxQuota int
}

type Options struct {
	DefaultMaxQuota int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	maxQuota := options.DefaultMaxQuota
	if maxQuota <= 0 {
		maxQuota = 30
	}
	return &Store{
		pool:            pool,
		defaultMaxQuota: maxQuota,
	}
}

const ticketColumns = `
	t.ticket_id, t.quota_id, q.doctor_id, d.clinic_id, t.sequence_number, t.display_code,
	t.status, t.patient_id, t.request_id, q.quota_date::text, t.created_at, t.called_at,
	t.served_at, t.skipped_at
`

const ticketFrom = `
	FROM tickets t
	JOIN daily_quotas q ON q.quota_id = t.quota_id
	JOIN doctors d ON d.doctor_id = q.doctor_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var patientIDNull sql.NullString
	var calledAtNull sql.NullTime
	var servedAtNull sql.NullTime
	var skippedAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.QuotaID, &ticket.DoctorID, &ticket.ClinicID,
		&ticket.SequenceNumber, &ticket.DisplayCode, &ticket.Status, &patientIDNull,
		&ticket.RequestID, &ticket.QuotaDate, &ticket.CreatedAt, &calledAtNull,
		&servedAtNull, &skippedAtNull,
	); err != nil {
		return models.Ticket{}, err
	}
	if patientIDNull.Valid {
		ticket.PatientID = &patientIDNull.String
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ServedAt = nullTimePtr(servedAtNull)
	ticket.SkippedAt = nullTimePtr(skippedAtNull)
	return ticket, nil
}

// IssueTicket reserves the next per-doctor sequence number and persists
// a waiting ticket in one transaction. Serialization conflicts on the
// quota row are retried before they are surfaced.
func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
	var ticket models.Ticket
	var quota models.DailyQuota
	var created bool
	err := withTxRetry(ctx, func() error {
		var err error
		ticket, quota, created, err = s.issueTicketOnce(ctx, input)
		return err
	})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	return ticket, quota, created, nil
}

func (s *Store) issueTicketOnce(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	if found {
		var quota models.DailyQuota
		quota, err = getQuotaByID(ctx, tx, existing.QuotaID)
		if err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		return existing, quota, false, nil
	}

	doctor, err := lookupDoctor(ctx, tx, input.DoctorID)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	dateKey := store.DateKey(input.Date)
	if err = ensureQuotaRow(ctx, tx, input.DoctorID, dateKey, s.defaultMaxQuota); err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	// The increment, the capacity check, and the status check are one
	// statement: two concurrent requests can never read the same count.
	var quota models.DailyQuota
	quota.DoctorID = input.DoctorID
	quota.QuotaDate = dateKey
	row := tx.QueryRow(ctx, `
		UPDATE daily_quotas
		SET current_count = current_count + 1
		WHERE doctor_id = $1 AND quota_date = $2::date
			AND status = 'open' AND current_count < max_quota
		RETURNING quota_id, status, max_quota, current_count
	`, input.DoctorID, dateKey)
	if err = row.Scan(&quota.QuotaID, &quota.Status, &quota.MaxQuota, &quota.CurrentCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyQuotaRefusal(ctx, tx, input.DoctorID, dateKey)
		}
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	sequence := quota.CurrentCount
	var displayCode string
	if input.PatientID == "" {
		var clinicSeq int64
		clinicSeq, err = nextClinicNumber(ctx, tx, doctor.ClinicID, dateKey)
		if err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		displayCode = store.ClinicDisplayCode(doctor.ClinicCode, clinicSeq)
	} else {
		displayCode = store.DoctorDisplayCode(doctor.Name, sequence)
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		TicketID:       uuid.NewString(),
		QuotaID:        quota.QuotaID,
		DoctorID:       input.DoctorID,
		ClinicID:       doctor.ClinicID,
		SequenceNumber: sequence,
		DisplayCode:    displayCode,
		Status:         models.StatusWaiting,
		RequestID:      input.RequestID,
		QuotaDate:      dateKey,
		CreatedAt:      createdAt,
	}
	if input.PatientID != "" {
		patientID := input.PatientID
		ticket.PatientID = &patientID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, quota_id, sequence_number, display_code,
			status, patient_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ticket.TicketID, ticket.RequestID, ticket.QuotaID, ticket.SequenceNumber,
		ticket.DisplayCode, ticket.Status, nullIfEmpty(input.PatientID), ticket.CreatedAt)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	err = insertOutboxEvent(ctx, tx, store.EventTicketIssued, doctor.ClinicID, input.DoctorID, map[string]any{
		"ticket": ticket,
		"quota":  quota,
	})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	return ticket, quota, true, nil
}

func classifyQuotaRefusal(ctx context.Context, tx pgx.Tx, doctorID, dateKey string) error {
	var status string
	var maxQuota, currentCount int
	row := tx.QueryRow(ctx, `
		SELECT status, max_quota, current_count
		FROM daily_quotas
		WHERE doctor_id = $1 AND quota_date = $2::date
	`, doctorID, dateKey)
	if err := row.Scan(&status, &maxQuota, &currentCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrQuotaNotFound
		}
		return err
	}
	switch status {
	case models.QuotaClosed:
		return store.ErrQuotaClosed
	case models.QuotaBreak:
		return store.ErrQuotaBreak
	default:
		return store.ErrQuotaFull
	}
}

// CallNext advances the oldest waiting ticket for the doctor's quota to
// called, strictly by sequence number.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error) {
	var ticket models.Ticket
	var quota models.DailyQuota
	var created bool
	err := withTxRetry(ctx, func() error {
		var err error
		ticket, quota, created, err = s.callNextOnce(ctx, input)
		return err
	})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	return ticket, quota, created, nil
}

func (s *Store) callNextOnce(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := findActionRequest(ctx, tx, "call_next", input.RequestID)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	if found {
		if existingID == "" {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, models.DailyQuota{}, false, err
			}
			return models.Ticket{}, models.DailyQuota{}, false, store.ErrNoTicket
		}
		var ticket models.Ticket
		var quota models.DailyQuota
		ticket, err = getTicketByID(ctx, tx, existingID)
		if err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		quota, err = getQuotaByID(ctx, tx, ticket.QuotaID)
		if err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		return ticket, quota, false, nil
	}

	doctor, err := lookupDoctor(ctx, tx, input.DoctorID)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	dateKey := store.DateKey(input.Date)
	quota, found, err := getQuotaByDoctorDate(ctx, tx, input.DoctorID, dateKey)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	if !found {
		if err = recordEmptyCall(ctx, tx, input.RequestID); err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, models.DailyQuota{}, false, err
		}
		return models.Ticket{}, models.DailyQuota{}, false, store.ErrNoTicket
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE quota_id = $1 AND status = 'waiting'
			ORDER BY sequence_number ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets t
		SET status = 'called',
			called_at = $2
		FROM next_ticket
		WHERE t.ticket_id = next_ticket.ticket_id
		RETURNING t.ticket_id
	`, quota.QuotaID, calledAt)
	var calledID string
	if err = row.Scan(&calledID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = recordEmptyCall(ctx, tx, input.RequestID); err != nil {
				return models.Ticket{}, models.DailyQuota{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, models.DailyQuota{}, false, err
			}
			return models.Ticket{}, models.DailyQuota{}, false, store.ErrNoTicket
		}
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	ticket, err := getTicketByID(ctx, tx, calledID)
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	if err = insertActionRequest(ctx, tx, "call_next", input.RequestID, ticket.TicketID); err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	err = insertOutboxEvent(ctx, tx, store.EventTicketCalled, doctor.ClinicID, input.DoctorID, map[string]any{
		"ticket":      ticket,
		"quota":       quota,
		"doctor_id":   input.DoctorID,
		"doctor_name": doctor.Name,
	})
	if err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.DailyQuota{}, false, err
	}
	return ticket, quota, true, nil
}

func recordEmptyCall(ctx context.Context, tx pgx.Tx, requestID string) error {
	return insertActionRequest(ctx, tx, "call_next", requestID, "")
}

func (s *Store) ServeTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.updateTicketStatus(ctx, input, "serve", models.StatusCalled, models.StatusServed, store.EventTicketServed, "served_at")
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.updateTicketStatus(ctx, input, "skip", models.StatusCalled, models.StatusSkipped, store.EventTicketSkipped, "skipped_at")
}

func (s *Store) updateTicketStatus(ctx context.Context, input store.TicketActionInput, action, fromStatus, toStatus, eventType, stampColumn string) (models.Ticket, bool, error) {
	if !store.ValidTransition(action, fromStatus) {
		return models.Ticket{}, false, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := findActionRequest(ctx, tx, action, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if existingID == "" {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return models.Ticket{}, false, store.ErrInvalidState
		}
		var ticket models.Ticket
		ticket, err = getTicketByID(ctx, tx, existingID)
		if err != nil {
			return models.Ticket{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return ticket, false, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// Both terminal transitions only leave 'called'; the WHERE clause is
	// what makes served/skipped immutable.
	query := fmt.Sprintf(`
		UPDATE tickets
		SET status = $1,
			%s = $2
		WHERE ticket_id = $3 AND status = $4
		RETURNING ticket_id
	`, stampColumn)
	var updatedID string
	row := tx.QueryRow(ctx, query, toStatus, occurredAt, input.TicketID, fromStatus)
	if err = row.Scan(&updatedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			exists, err = ticketExists(ctx, tx, input.TicketID)
			if err != nil {
				return models.Ticket{}, false, err
			}
			if !exists {
				err = store.ErrTicketNotFound
				return models.Ticket{}, false, err
			}
			err = store.ErrInvalidState
			return models.Ticket{}, false, err
		}
		return models.Ticket{}, false, err
	}

	ticket, err := getTicketByID(ctx, tx, updatedID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if err = insertActionRequest(ctx, tx, action, input.RequestID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}

	err = insertOutboxEvent(ctx, tx, eventType, ticket.ClinicID, ticket.DoctorID, map[string]any{
		"ticket": ticket,
	})
	if err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// GetTicket returns the ticket and how many waiting tickets precede it
// inside the same quota.
func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, int, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+`WHERE t.ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, 0, store.ErrTicketNotFound
		}
		return models.Ticket{}, 0, err
	}

	var ahead int
	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE quota_id = $1 AND status = 'waiting' AND sequence_number < $2
	`, ticket.QuotaID, ticket.SequenceNumber)
	if err := row.Scan(&ahead); err != nil {
		return models.Ticket{}, 0, err
	}
	return ticket, ahead, nil
}

func (s *Store) GetOrCreateQuota(ctx context.Context, doctorID string, date time.Time) (models.DailyQuota, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.DailyQuota{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lookupDoctor(ctx, tx, doctorID); err != nil {
		return models.DailyQuota{}, err
	}

	dateKey := store.DateKey(date)
	if err = ensureQuotaRow(ctx, tx, doctorID, dateKey, s.defaultMaxQuota); err != nil {
		return models.DailyQuota{}, err
	}

	quota, found, err := getQuotaByDoctorDate(ctx, tx, doctorID, dateKey)
	if err != nil {
		return models.DailyQuota{}, err
	}
	if !found {
		err = store.ErrQuotaNotFound
		return models.DailyQuota{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.DailyQuota{}, err
	}
	return quota, nil
}

// SetQuotaStatus is the staff toggle. It shares the quota row's atomic
// update discipline with issuance, so a toggle racing a ticket request
// cannot lose either write. Lowering max_quota below the issued count is
// refused.
func (s *Store) SetQuotaStatus(ctx context.Context, input store.SetQuotaStatusInput) (models.DailyQuota, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.DailyQuota{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	doctor, err := lookupDoctor(ctx, tx, input.DoctorID)
	if err != nil {
		return models.DailyQuota{}, err
	}

	dateKey := store.DateKey(input.Date)
	if err = ensureQuotaRow(ctx, tx, input.DoctorID, dateKey, s.defaultMaxQuota); err != nil {
		return models.DailyQuota{}, err
	}

	var quota models.DailyQuota
	quota.DoctorID = input.DoctorID
	quota.QuotaDate = dateKey
	row := tx.QueryRow(ctx, `
		UPDATE daily_quotas
		SET status = $3,
			max_quota = $4
		WHERE doctor_id = $1 AND quota_date = $2::date AND current_count <= $4
		RETURNING quota_id, status, max_quota, current_count
	`, input.DoctorID, dateKey, input.Status, input.MaxQuota)
	if err = row.Scan(&quota.QuotaID, &quota.Status, &quota.MaxQuota, &quota.CurrentCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrQuotaBelowCount
		}
		return models.DailyQuota{}, err
	}

	err = insertOutboxEvent(ctx, tx, store.EventQuotaStatus, doctor.ClinicID, input.DoctorID, map[string]any{
		"quota": quota,
	})
	if err != nil {
		return models.DailyQuota{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.DailyQuota{}, err
	}
	return quota, nil
}

// GenerateDailyQuotas materializes a quota row for every doctor whose
// weekly schedule covers the date's weekday and who is not on leave.
// Safe to run any number of times; existing rows and counts are left
// alone.
func (s *Store) GenerateDailyQuotas(ctx context.Context, date time.Time) (int, error) {
	dateKey := store.DateKey(date)
	weekday := int(date.Weekday())
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO daily_quotas (quota_id, doctor_id, quota_date, status, max_quota, current_count)
		SELECT gen_random_uuid(), d.doctor_id, $1::date, 'open', $2, 0
		FROM doctors d
		WHERE EXISTS (
				SELECT 1 FROM doctor_schedules s
				WHERE s.doctor_id = d.doctor_id AND s.weekday = $3
			)
			AND NOT EXISTS (
				SELECT 1 FROM doctor_leaves l
				WHERE l.doctor_id = d.doctor_id AND l.leave_date = $1::date
			)
		ON CONFLICT (doctor_id, quota_date) DO NOTHING
	`, dateKey, s.defaultMaxQuota, weekday)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListQuotas(ctx context.Context, date time.Time) ([]models.DailyQuota, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.quota_id, q.doctor_id, q.quota_date::text, q.status, q.max_quota, q.current_count
		FROM daily_quotas q
		JOIN doctors d ON d.doctor_id = q.doctor_id
		WHERE q.quota_date = $1::date
		ORDER BY d.name ASC
	`, store.DateKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []models.DailyQuota
	for rows.Next() {
		var quota models.DailyQuota
		if err := rows.Scan(&quota.QuotaID, &quota.DoctorID, &quota.QuotaDate, &quota.Status, &quota.MaxQuota, &quota.CurrentCount); err != nil {
			return nil, err
		}
		quotas = append(quotas, quota)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quotas, nil
}

// SnapshotTickets returns the live queue (waiting and called) for one
// doctor-day, for subscribers reconciling after a reconnect.
func (s *Store) SnapshotTickets(ctx context.Context, doctorID string, date time.Time) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE q.doctor_id = $1 AND q.quota_date = $2::date
			AND t.status IN ('waiting', 'called')
		ORDER BY t.sequence_number ASC
	`, doctorID, store.DateKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, type, clinic_id, doctor_id, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &event.ClinicID, &event.DoctorID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type doctorRow struct {
	DoctorID   string
	Name       string
	ClinicID   string
	ClinicCode string
}

func lookupDoctor(ctx context.Context, tx pgx.Tx, doctorID string) (doctorRow, error) {
	var doctor doctorRow
	row := tx.QueryRow(ctx, `
		SELECT d.doctor_id, d.name, d.clinic_id, c.code
		FROM doctors d
		JOIN clinics c ON c.clinic_id = d.clinic_id
		WHERE d.doctor_id = $1
	`, doctorID)
	if err := row.Scan(&doctor.DoctorID, &doctor.Name, &doctor.ClinicID, &doctor.ClinicCode); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return doctorRow{}, store.ErrDoctorNotFound
		}
		return doctorRow{}, err
	}
	return doctor, nil
}

func ensureQuotaRow(ctx context.Context, tx pgx.Tx, doctorID, dateKey string, maxQuota int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_quotas (quota_id, doctor_id, quota_date, status, max_quota, current_count)
		VALUES ($1, $2, $3::date, 'open', $4, 0)
		ON CONFLICT (doctor_id, quota_date) DO NOTHING
	`, uuid.NewString(), doctorID, dateKey, maxQuota)
	return err
}

func getQuotaByDoctorDate(ctx context.Context, tx pgx.Tx, doctorID, dateKey string) (models.DailyQuota, bool, error) {
	var quota models.DailyQuota
	row := tx.QueryRow(ctx, `
		SELECT quota_id, doctor_id, quota_date::text, status, max_quota, current_count
		FROM daily_quotas
		WHERE doctor_id = $1 AND quota_date = $2::date
	`, doctorID, dateKey)
	if err := row.Scan(&quota.QuotaID, &quota.DoctorID, &quota.QuotaDate, &quota.Status, &quota.MaxQuota, &quota.CurrentCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyQuota{}, false, nil
		}
		return models.DailyQuota{}, false, err
	}
	return quota, true, nil
}

func getQuotaByID(ctx context.Context, tx pgx.Tx, quotaID string) (models.DailyQuota, error) {
	var quota models.DailyQuota
	row := tx.QueryRow(ctx, `
		SELECT quota_id, doctor_id, quota_date::text, status, max_quota, current_count
		FROM daily_quotas
		WHERE quota_id = $1
	`, quotaID)
	if err := row.Scan(&quota.QuotaID, &quota.DoctorID, &quota.QuotaDate, &quota.Status, &quota.MaxQuota, &quota.CurrentCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyQuota{}, store.ErrQuotaNotFound
		}
		return models.DailyQuota{}, err
	}
	return quota, nil
}

func getTicketByID(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+`WHERE t.ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+`WHERE t.request_id = $1`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func ticketExists(ctx context.Context, tx pgx.Tx, ticketID string) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (string, bool, error) {
	var ticketID string
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM action_requests
		WHERE action = $1 AND request_id = $2
	`, action, requestID)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return ticketID, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, ticketID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (action, request_id, ticket_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (action, request_id) DO NOTHING
	`, action, requestID, ticketID)
	return err
}

// nextClinicNumber reserves the clinic-wide daily sequence used by
// anonymous kiosk codes. A dedicated counter row, not a count of
// tickets, so two anonymous tickets can never compute the same number.
func nextClinicNumber(ctx context.Context, tx pgx.Tx, clinicID, dateKey string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO clinic_sequences (clinic_id, quota_date, next_number)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (clinic_id, quota_date)
		DO UPDATE SET next_number = clinic_sequences.next_number + 1
		RETURNING next_number
	`, clinicID, dateKey)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, clinicID, doctorID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, clinic_id, doctor_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), eventType, clinicID, doctorID, payloadJSON, time.Now().UTC())
	return err
}

func withTxRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < txRetryLimit; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
