// Package store keeps a history of calibration runs and the last good
// calibration data of each device in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/swdee/go-vl53l1"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a device has no stored calibration
var ErrNotFound = errors.New("no stored calibration")

// Store is a calibration history database.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string, log logrus.FieldLogger) (*Store, error) {

	db, err := sql.Open("sqlite", path)

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	// a single connection keeps migrations and queries on one database for
	// in-memory paths
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}

	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// newMigrate returns a migrate instance over the embedded migrations. It is
// not closed as that would close the shared database.
func (s *Store) newMigrate() (*migrate.Migrate, error) {

	src, err := iofs.New(migrationsFS, "migrations")

	if err != nil {
		return nil, errors.Wrap(err, "migration source")
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})

	if err != nil {
		return nil, errors.Wrap(err, "sqlite migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)

	if err != nil {
		return nil, errors.Wrap(err, "create migrate instance")
	}

	m.Log = &migrateLogger{log: s.log}

	return m, nil
}

func (s *Store) migrateUp() error {

	m, err := s.newMigrate()

	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}

	return nil
}

// Version returns the schema version and dirty state.
func (s *Store) Version() (version uint, dirty bool, err error) {

	m, err := s.newMigrate()

	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()

	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	return version, dirty, err
}

// migrateLogger implements migrate.Logger on logrus
type migrateLogger struct {
	log logrus.FieldLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Run is one calibration procedure run.
type Run struct {
	ID        uuid.UUID
	Device    string
	Procedure string
	Status    vl53l1.CalibrationStatus
	// Err is the fatal error message, empty when the procedure completed
	Err        string
	Result     json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun starts a run record with a fresh ID.
func NewRun(device, procedure string, started time.Time) *Run {
	return &Run{
		ID:        uuid.New(),
		Device:    device,
		Procedure: procedure,
		StartedAt: started.UTC(),
	}
}

// Finish records the outcome of the run, encoding result as JSON.
func (r *Run) Finish(result interface{}, status vl53l1.CalibrationStatus, runErr error,
	finished time.Time) error {

	r.Status = status
	r.FinishedAt = finished.UTC()

	if runErr != nil {
		r.Err = runErr.Error()
	}

	if result == nil {
		return nil
	}

	data, err := json.Marshal(result)

	if err != nil {
		return errors.Wrap(err, "encode result")
	}

	r.Result = data

	return nil
}

// RecordRun stores a finished run.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, device, procedure, status_code, status, error, result,
			started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Device, r.Procedure, int(r.Status.Code), r.Status.String(),
		r.Err, string(r.Result), r.StartedAt, r.FinishedAt)

	if err != nil {
		return errors.Wrapf(err, "record run %s", r.ID)
	}

	s.log.WithFields(logrus.Fields{
		"run":       r.ID,
		"device":    r.Device,
		"procedure": r.Procedure,
		"status":    r.Status,
	}).Debug("run recorded")

	return nil
}

// Runs returns the most recent runs of device, newest first. An empty device
// returns runs of all devices.
func (s *Store) Runs(ctx context.Context, device string, limit int) ([]Run, error) {

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, device, procedure, status_code, error, result, started_at, finished_at
		FROM runs
		WHERE ? = '' OR device = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, device, device, limit)

	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}

	defer rows.Close()

	var runs []Run

	for rows.Next() {

		var r Run
		var id, result string
		var code int

		if err := rows.Scan(&id, &r.Device, &r.Procedure, &code, &r.Err, &result,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}

		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "run id %q", id)
		}

		r.Status = statusFromCode(vl53l1.StatusCode(code))

		if result != "" {
			r.Result = json.RawMessage(result)
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// statusFromCode rebuilds a stored status
func statusFromCode(code vl53l1.StatusCode) vl53l1.CalibrationStatus {

	if code == vl53l1.StatusOK {
		return vl53l1.Success()
	}

	return vl53l1.NewStatus(code)
}

// SaveCalibration stores data as the current calibration of device, produced
// by run runID.
func (s *Store) SaveCalibration(ctx context.Context, device string, runID uuid.UUID,
	data vl53l1.CalibrationData) error {

	if err := data.Validate(); err != nil {
		return err
	}

	enc, err := json.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "encode calibration data")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calibrations (device, run_id, struct_version, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device) DO UPDATE SET
			run_id = excluded.run_id,
			struct_version = excluded.struct_version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		device, runID.String(), data.StructVersion, string(enc), time.Now().UTC())

	if err != nil {
		return errors.Wrapf(err, "save calibration of %s", device)
	}

	return nil
}

// LatestCalibration returns the stored calibration of device and the run that
// produced it, or ErrNotFound.
func (s *Store) LatestCalibration(ctx context.Context, device string) (vl53l1.CalibrationData,
	uuid.UUID, error) {

	var data vl53l1.CalibrationData
	var id, enc string

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, data FROM calibrations WHERE device = ?`, device).Scan(&id, &enc)

	if errors.Is(err, sql.ErrNoRows) {
		return data, uuid.Nil, ErrNotFound
	}

	if err != nil {
		return data, uuid.Nil, errors.Wrapf(err, "load calibration of %s", device)
	}

	if err := json.Unmarshal([]byte(enc), &data); err != nil {
		return data, uuid.Nil, errors.Wrapf(err, "decode calibration of %s", device)
	}

	runID, err := uuid.Parse(id)

	if err != nil {
		return data, uuid.Nil, errors.Wrapf(err, "run id %q", id)
	}

	return data, runID, nil
}
