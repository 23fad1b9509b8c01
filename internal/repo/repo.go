package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"permitflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a compare-and-swap update loses to a
// concurrent writer. Callers surface it as stale state.
var ErrVersionConflict = errors.New("version conflict")

const applicationColumns = `id, application_id, status, current_stage, version,
applicant_name, COALESCE(physical_address,''), COALESCE(postal_address,''),
COALESCE(customer_account_number,''), COALESCE(cellular_number,''),
COALESCE(permit_type,''), COALESCE(water_source,''),
COALESCE(water_allocation,0), COALESCE(land_size,0), COALESCE(number_of_boreholes,0),
COALESCE(gps_latitude,0), COALESCE(gps_longitude,0), COALESCE(intended_use,''),
COALESCE(validity_period,0), created_by, created_at, updated_at,
submitted_at, approved_at, rejected_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (domain.Application, error) {
	var a domain.Application
	var submitted, approved, rejected sql.NullString
	err := row.Scan(
		&a.ID, &a.ApplicationID, &a.Status, &a.CurrentStage, &a.Version,
		&a.ApplicantName, &a.PhysicalAddress, &a.PostalAddress,
		&a.CustomerAccountNumber, &a.CellularNumber,
		&a.PermitType, &a.WaterSource,
		&a.WaterAllocation, &a.LandSize, &a.NumberOfBoreholes,
		&a.GPSLatitude, &a.GPSLongitude, &a.IntendedUse,
		&a.ValidityPeriod, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
		&submitted, &approved, &rejected,
	)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if submitted.Valid {
		a.SubmittedAt = &submitted.String
	}
	if approved.Valid {
		a.ApprovedAt = &approved.String
	}
	if rejected.Valid {
		a.RejectedAt = &rejected.String
	}
	return a, nil
}

// NextApplicationNumber allocates the next MC<year>-<seq:04d> number within tx.
// The sequence is per-year, monotonic, and never reused.
func (r Repo) NextApplicationNumber(ctx context.Context, tx *sql.Tx, year int) (string, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO permit_sequences(year, seq) VALUES (?,0)
ON CONFLICT(year) DO NOTHING`, year); err != nil {
		return "", fmt.Errorf("seed sequence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE permit_sequences SET seq=seq+1 WHERE year=?`, year); err != nil {
		return "", fmt.Errorf("advance sequence: %w", err)
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM permit_sequences WHERE year=?`, year).Scan(&seq); err != nil {
		return "", fmt.Errorf("read sequence: %w", err)
	}
	return fmt.Sprintf("MC%d-%04d", year, seq), nil
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(
id, application_id, status, current_stage, version,
applicant_name, physical_address, postal_address, customer_account_number, cellular_number,
permit_type, water_source, water_allocation, land_size, number_of_boreholes,
gps_latitude, gps_longitude, intended_use, validity_period,
created_by, created_at, updated_at, submitted_at, approved_at, rejected_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ApplicationID, a.Status, a.CurrentStage, a.Version,
		a.ApplicantName, nullable(a.PhysicalAddress), nullable(a.PostalAddress),
		nullable(a.CustomerAccountNumber), nullable(a.CellularNumber),
		nullable(a.PermitType), nullable(a.WaterSource),
		nullFloat(a.WaterAllocation), nullFloat(a.LandSize), nullInt(a.NumberOfBoreholes),
		nullFloat(a.GPSLatitude), nullFloat(a.GPSLongitude), nullable(a.IntendedUse),
		nullInt(a.ValidityPeriod),
		a.CreatedBy, a.CreatedAt, a.UpdatedAt,
		nullPtr(a.SubmittedAt), nullPtr(a.ApprovedAt), nullPtr(a.RejectedAt))
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

// GetApplicationByNumber looks up by the human-readable MC number.
func (r Repo) GetApplicationByNumber(ctx context.Context, number string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE application_id=?`, number))
}

// ApplicationFilter narrows ListApplications.
type ApplicationFilter struct {
	Status    string
	Stage     *int
	CreatedBy string
	Search    string
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilter) ([]domain.Application, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Stage != nil {
		clauses = append(clauses, "current_stage=?")
		args = append(args, *f.Stage)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Search != "" {
		clauses = append(clauses, "(application_id LIKE ? OR applicant_name LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateApplicationState persists new workflow state (status, stage, decision
// timestamps) with an optimistic version check. The WHERE clause compares the
// version read by the caller; losing a race returns ErrVersionConflict.
func (r Repo) UpdateApplicationState(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET
status=?, current_stage=?, version=version+1, updated_at=?,
submitted_at=?, approved_at=?, rejected_at=?
WHERE id=? AND version=?`,
		a.Status, a.CurrentStage, a.UpdatedAt,
		nullPtr(a.SubmittedAt), nullPtr(a.ApprovedAt), nullPtr(a.RejectedAt),
		a.ID, a.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM applications WHERE id=?`, a.ID).Scan(&n)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

// UpdateApplicationDetails updates applicant-supplied fields on an
// unsubmitted application. Workflow state is untouched.
func (r Repo) UpdateApplicationDetails(ctx context.Context, a domain.Application) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE applications SET
applicant_name=?, physical_address=?, postal_address=?, customer_account_number=?,
cellular_number=?, permit_type=?, water_source=?, water_allocation=?, land_size=?,
number_of_boreholes=?, gps_latitude=?, gps_longitude=?, intended_use=?, validity_period=?,
updated_at=?
WHERE id=?`,
		a.ApplicantName, nullable(a.PhysicalAddress), nullable(a.PostalAddress),
		nullable(a.CustomerAccountNumber), nullable(a.CellularNumber),
		nullable(a.PermitType), nullable(a.WaterSource),
		nullFloat(a.WaterAllocation), nullFloat(a.LandSize), nullInt(a.NumberOfBoreholes),
		nullFloat(a.GPSLatitude), nullFloat(a.GPSLongitude), nullable(a.IntendedUse),
		nullInt(a.ValidityPeriod), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountApplicationsByStatus returns status -> count for dashboard views.
func (r Repo) CountApplicationsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
