package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/verte-zerg/dcsf/internal/model"
)

// ErrPatientExists is returned when inserting a duplicate patient id.
var ErrPatientExists = errors.New("patient already exists")

// InsertPatient stores p. An empty id is replaced by the current Unix time in
// milliseconds.
func (s *Store) InsertPatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	if p.ID == "" {
		p.ID = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	if _, err := s.GetPatient(ctx, p.ID); err == nil {
		return model.Patient{}, fmt.Errorf("%w: %s", ErrPatientExists, p.ID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, gender, birthday, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Gender, p.Birthday, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Patient{}, err
	}
	return p, nil
}

// GetPatient loads one patient.
func (s *Store) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	var p model.Patient
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, gender, birthday FROM patients WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Gender, &p.Birthday)
	if err != nil {
		return model.Patient{}, wrapNotFound(err, "patient "+id)
	}
	return p, nil
}

// ListPatients returns every patient, newest first.
func (s *Store) ListPatients(ctx context.Context) ([]model.Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, gender, birthday FROM patients ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var result []model.Patient
	for rows.Next() {
		var p model.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Gender, &p.Birthday); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
