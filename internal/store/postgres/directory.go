package postgres

import (
	"context"
	"errors"

	"frontdesk/queue-service/internal/models"

	"github.com/jackc/pgx/v5"
)

// The clinic and doctor directory is owned by the record-management
// system; the queue engine only reads it.

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT clinic_id, name, code
		FROM clinics
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []models.Clinic
	for rows.Next() {
		var clinic models.Clinic
		if err := rows.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Code); err != nil {
			return nil, err
		}
		clinics = append(clinics, clinic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clinics, nil
}

func (s *Store) ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error) {
	query := `
		SELECT d.doctor_id, d.clinic_id, c.code, d.name
		FROM doctors d
		JOIN clinics c ON c.clinic_id = d.clinic_id
	`
	args := []any{}
	if clinicID != "" {
		query += " WHERE d.clinic_id = $1"
		args = append(args, clinicID)
	}
	query += " ORDER BY d.name ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []models.Doctor
	for rows.Next() {
		var doctor models.Doctor
		if err := rows.Scan(&doctor.DoctorID, &doctor.ClinicID, &doctor.ClinicCode, &doctor.Name); err != nil {
			return nil, err
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doctors, nil
}

const relayID = 1

func (s *Store) RelayOffset(ctx context.Context) (int64, error) {
	var last int64
	row := s.pool.QueryRow(ctx, `
		SELECT last_seq
		FROM relay_offsets
		WHERE relay_id = $1
	`, relayID)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return last, nil
}

func (s *Store) SetRelayOffset(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (relay_id, last_seq)
		VALUES ($1, $2)
		ON CONFLICT (relay_id) DO UPDATE SET last_seq = EXCLUDED.last_seq
	`, relayID, seq)
	return err
}
