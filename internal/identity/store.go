package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store defines the persistence operations of the identity model.
// This abstraction allows pipelines to be tested without a database.
type Store interface {
	// UpsertDevice inserts the device if absent. Existing rows are untouched,
	// which keeps the decoder assignment sticky once learned.
	UpsertDevice(ctx context.Context, rec DeviceRecord) (bool, error)

	// UpsertDatapoint inserts the datapoint if absent and allocates its
	// object id. Existing rows are untouched.
	UpsertDatapoint(ctx context.Context, rec DatapointRecord) (bool, error)

	// UpdateDatapointValue overwrites the last known value. It reports false
	// with a nil error when no row matched.
	UpdateDatapointValue(ctx context.Context, id DatapointID, value float64) (bool, error)

	DecoderFor(ctx context.Context, eui EUI) (string, error)
	TypeOf(ctx context.Context, id DatapointID) (int, error)
	NameOf(ctx context.Context, id DatapointID) (string, error)
	UnitsOf(ctx context.Context, id DatapointID) (string, error)
	DownlinkPortFor(ctx context.Context, profileID string, channel int) (int, error)
	ObjectIDFor(ctx context.Context, id DatapointID) (uint32, error)
	ProfileIDFor(ctx context.Context, eui EUI) (string, error)
	ApplicationFor(ctx context.Context, eui EUI) (string, error)

	// Snapshot returns every datapoint joined with its device name, ordered
	// by device, channel and field.
	Snapshot(ctx context.Context) ([]SnapshotRow, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// UpsertDevice registers a device on first sight.
//
// Returns:
//   - bool: true if a new row was inserted
//   - error: wrapped ErrStore on database failure
func (s *SQLiteStore) UpsertDevice(ctx context.Context, rec DeviceRecord) (bool, error) {
	if len(rec.EUI) == 0 {
		return false, ErrInvalidEUI
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO device (eui, decoder, name, profile_id, application_id)
		VALUES (?, ?, ?, ?, ?)`,
		[]byte(rec.EUI), rec.Decoder,
		nullableString(rec.Name), nullableString(rec.ProfileID), nullableString(rec.ApplicationID),
	)
	if err != nil {
		return false, fmt.Errorf("%w: upsert device %s: %w", ErrStore, rec.EUI, err)
	}
	return affected(res)
}

// SetApplication records the application id a device was last seen under.
func (s *SQLiteStore) SetApplication(ctx context.Context, eui EUI, applicationID string) error {
	if applicationID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE device SET application_id = ? WHERE eui = ? AND (application_id IS NULL OR application_id != ?)`,
		applicationID, []byte(eui), applicationID)
	if err != nil {
		return fmt.Errorf("%w: set application %s: %w", ErrStore, eui, err)
	}
	return nil
}

// UpsertDatapoint registers a datapoint on first observation.
//
// The object id is allocated inside the insert statement as one more than
// the highest id in use. The connection pool is limited to one connection,
// so allocation cannot race.
//
// Returns:
//   - bool: true if a new row was inserted
//   - error: wrapped ErrStore on database failure
func (s *SQLiteStore) UpsertDatapoint(ctx context.Context, rec DatapointRecord) (bool, error) {
	if len(rec.EUI) == 0 {
		return false, ErrInvalidEUI
	}
	units := rec.Units
	if units == "" {
		units = "noUnits"
	}

	var fport sql.NullInt64
	if rec.FPort != nil {
		fport = sql.NullInt64{Int64: int64(*rec.FPort), Valid: true}
	}
	var cov sql.NullInt64
	if rec.COV != nil {
		cov = sql.NullInt64{Int64: int64(boolToInt(*rec.COV)), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO datapoint
			(id, dev_eui, channel, field, name, type, units, value, fport, cov, object_id)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE(?, (
				SELECT pp.fport FROM profile_port pp
				JOIN device d ON d.profile_id = pp.profile_id
				WHERE d.eui = ? AND pp.channel = ?)),
			?,
			COALESCE((SELECT MAX(object_id) FROM datapoint), 0) + 1`,
		string(rec.ID()), []byte(rec.EUI), rec.Channel, rec.Field, rec.Name, rec.Type, units, rec.Value,
		fport, []byte(rec.EUI), rec.Channel,
		cov,
	)
	if err != nil {
		return false, fmt.Errorf("%w: upsert datapoint %s: %w", ErrStore, rec.ID(), err)
	}
	return affected(res)
}

// UpdateDatapointValue overwrites the stored value of a datapoint.
func (s *SQLiteStore) UpdateDatapointValue(ctx context.Context, id DatapointID, value float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE datapoint SET value = ? WHERE id = ?`, value, string(id))
	if err != nil {
		return false, fmt.Errorf("%w: update value %s: %w", ErrStore, id, err)
	}
	return affected(res)
}

// DecoderFor returns the script name assigned to a device.
func (s *SQLiteStore) DecoderFor(ctx context.Context, eui EUI) (string, error) {
	var decoder string
	err := s.queryOne(ctx, &decoder, eui, `SELECT decoder FROM device WHERE eui = ?`, []byte(eui))
	return decoder, err
}

// TypeOf returns the type tag of a datapoint.
func (s *SQLiteStore) TypeOf(ctx context.Context, id DatapointID) (int, error) {
	var t int
	err := s.queryOne(ctx, &t, id, `SELECT type FROM datapoint WHERE id = ?`, string(id))
	return t, err
}

// NameOf returns the name of a datapoint.
func (s *SQLiteStore) NameOf(ctx context.Context, id DatapointID) (string, error) {
	var name string
	err := s.queryOne(ctx, &name, id, `SELECT name FROM datapoint WHERE id = ?`, string(id))
	return name, err
}

// UnitsOf returns the engineering units of a datapoint.
func (s *SQLiteStore) UnitsOf(ctx context.Context, id DatapointID) (string, error) {
	var units string
	err := s.queryOne(ctx, &units, id, `SELECT units FROM datapoint WHERE id = ?`, string(id))
	return units, err
}

// DownlinkPortFor returns the fport configured for a profile channel.
func (s *SQLiteStore) DownlinkPortFor(ctx context.Context, profileID string, channel int) (int, error) {
	var port int
	err := s.queryOne(ctx, &port, profilePort{profileID, channel},
		`SELECT fport FROM profile_port WHERE profile_id = ? AND channel = ?`, profileID, channel)
	return port, err
}

// ObjectIDFor returns the BACnet instance number of a datapoint.
func (s *SQLiteStore) ObjectIDFor(ctx context.Context, id DatapointID) (uint32, error) {
	var objectID int64
	if err := s.queryOne(ctx, &objectID, id, `SELECT object_id FROM datapoint WHERE id = ?`, string(id)); err != nil {
		return 0, err
	}
	return uint32(objectID), nil //nolint:gosec // object ids are allocated from 1 upwards
}

// ProfileIDFor returns the profile of a device. A device without a profile
// yields ErrNotFound.
func (s *SQLiteStore) ProfileIDFor(ctx context.Context, eui EUI) (string, error) {
	var profile sql.NullString
	if err := s.queryOne(ctx, &profile, eui, `SELECT profile_id FROM device WHERE eui = ?`, []byte(eui)); err != nil {
		return "", err
	}
	if !profile.Valid || profile.String == "" {
		return "", fmt.Errorf("%w: no profile for %s", ErrNotFound, eui)
	}
	return profile.String, nil
}

// ApplicationFor returns the application id a device was last seen under.
func (s *SQLiteStore) ApplicationFor(ctx context.Context, eui EUI) (string, error) {
	var app sql.NullString
	if err := s.queryOne(ctx, &app, eui, `SELECT application_id FROM device WHERE eui = ?`, []byte(eui)); err != nil {
		return "", err
	}
	if !app.Valid || app.String == "" {
		return "", fmt.Errorf("%w: no application for %s", ErrNotFound, eui)
	}
	return app.String, nil
}

// Datapoint returns a stored datapoint by id.
func (s *SQLiteStore) Datapoint(ctx context.Context, id DatapointID) (*Datapoint, error) {
	row := s.db.QueryRowContext(ctx, datapointSelect+` WHERE dp.id = ?`, string(id))
	rec, err := scanSnapshotRow(row)
	if err != nil {
		return nil, notFound(err, string(id))
	}
	return &rec.Datapoint, nil
}

// DatapointByObjectID returns the datapoint owning a BACnet instance number.
func (s *SQLiteStore) DatapointByObjectID(ctx context.Context, objectID uint32) (*Datapoint, error) {
	row := s.db.QueryRowContext(ctx, datapointSelect+` WHERE dp.object_id = ?`, int64(objectID))
	rec, err := scanSnapshotRow(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("object %d", objectID))
	}
	return &rec.Datapoint, nil
}

// Snapshot dumps every datapoint joined with its owning device name.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, datapointSelect+` ORDER BY dp.dev_eui, dp.channel, dp.field`)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrStore, err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		rec, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot scan: %w", ErrStore, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrStore, err)
	}
	return out, nil
}

// ListDevices returns every registered device ordered by EUI.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT eui, decoder, name, profile_id, application_id FROM device ORDER BY eui`)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", ErrStore, err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var (
			eui                 []byte
			rec                 DeviceRecord
			name, profile, appl sql.NullString
		)
		if err := rows.Scan(&eui, &rec.Decoder, &name, &profile, &appl); err != nil {
			return nil, fmt.Errorf("%w: list devices scan: %w", ErrStore, err)
		}
		rec.EUI = EUI(eui)
		rec.Name = name.String
		rec.ProfileID = profile.String
		rec.ApplicationID = appl.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", ErrStore, err)
	}
	return out, nil
}

// SyncProfilePorts replaces the profile port table with the configured
// profiles. ports maps profile id to channel to fport.
func (s *SQLiteStore) SyncProfilePorts(ctx context.Context, ports map[string]map[int]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin profile sync: %w", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_port`); err != nil {
		return fmt.Errorf("%w: clear profile ports: %w", ErrStore, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO profile_port (profile_id, channel, fport) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare profile ports: %w", ErrStore, err)
	}
	defer stmt.Close()

	for profile, channels := range ports {
		for channel, fport := range channels {
			if _, err := stmt.ExecContext(ctx, profile, channel, fport); err != nil {
				return fmt.Errorf("%w: insert profile port %s/%d: %w", ErrStore, profile, channel, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit profile sync: %w", ErrStore, err)
	}
	return nil
}

// SyncDeviceOverrides applies configured names and profiles to devices.
// Devices not yet seen are registered with the given decoder so a downlink
// can reach them before their first uplink. The decoder of an existing
// device is never changed.
func (s *SQLiteStore) SyncDeviceOverrides(ctx context.Context, overrides map[string]DeviceOverride, decoder string) error {
	for key, o := range overrides {
		eui, err := ParseEUI(key)
		if err != nil {
			return err
		}
		if _, err := s.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: decoder}); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE device SET name = ?, profile_id = ? WHERE eui = ?`,
			nullableString(o.Name), nullableString(o.ProfileID), []byte(eui)); err != nil {
			return fmt.Errorf("%w: apply override %s: %w", ErrStore, eui, err)
		}
	}
	return nil
}

const datapointSelect = `
	SELECT dp.id, dp.dev_eui, dp.channel, dp.field, dp.name, dp.type, dp.units,
		dp.value, dp.fport, dp.cov, dp.object_id, d.name
	FROM datapoint dp
	JOIN device d ON d.eui = dp.dev_eui`

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshotRow(scanner rowScanner) (SnapshotRow, error) {
	var (
		rec        SnapshotRow
		id         string
		eui        []byte
		fport, cov sql.NullInt64
		objectID   int64
		deviceName sql.NullString
	)
	err := scanner.Scan(&id, &eui, &rec.Channel, &rec.Field, &rec.Name, &rec.Type, &rec.Units,
		&rec.Value, &fport, &cov, &objectID, &deviceName)
	if err != nil {
		return SnapshotRow{}, err
	}
	rec.ID = DatapointID(id)
	rec.EUI = EUI(eui)
	rec.ObjectID = uint32(objectID) //nolint:gosec // object ids are allocated from 1 upwards
	rec.DeviceName = deviceName.String
	if fport.Valid {
		p := int(fport.Int64)
		rec.FPort = &p
	}
	if cov.Valid {
		c := cov.Int64 != 0
		rec.COV = &c
	}
	return rec, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, dest any, key fmt.Stringer, query string, args ...any) error {
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return notFound(err, key.String())
	}
	return nil
}

type profilePort struct {
	profile string
	channel int
}

func (p profilePort) String() string {
	return fmt.Sprintf("%s/%d", p.profile, p.channel)
}

func notFound(err error, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, key, err)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", ErrStore, err)
	}
	return n > 0, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
