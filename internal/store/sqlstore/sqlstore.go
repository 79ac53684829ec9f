// Package sqlstore implements store.Store on database/sql. SQLite and
// PostgreSQL share the queries; a Dialect supplies the schema and the
// placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/andon/internal/store"
)

// Dialect describes the differences between supported databases.
type Dialect struct {
	Name string
	// Numbered selects $1, $2, ... placeholders instead of ?.
	Numbered bool
	Schema   []string
}

type DB struct {
	db *sql.DB
	d  Dialect
}

var _ store.Store = (*DB)(nil)

// New wraps an open handle.
func New(db *sql.DB, d Dialect) *DB { return &DB{db: db, d: d} }

// Handle exposes the underlying pool.
func (s *DB) Handle() *sql.DB { return s.db }

func (s *DB) Dialect() string { return s.d.Name }

// rebind rewrites ? placeholders for numbered dialects.
func (s *DB) rebind(q string) string {
	if !s.d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

const stationColumns = `name, address, category_map, count_index, active, is_alive, actual_count, updated_at`

func (s *DB) ActiveStations(ctx context.Context) ([]store.Station, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+stationColumns+` FROM stations WHERE active = ? ORDER BY name`), true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Station, 0)
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *DB) GetStation(ctx context.Context, name string) (store.Station, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+stationColumns+` FROM stations WHERE name = ?`), name)
	st, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Station{}, fmt.Errorf("station %q: %w", name, store.ErrNotFound)
	}
	return st, err
}

type scanner interface{ Scan(dest ...any) error }

func scanStation(sc scanner) (store.Station, error) {
	var (
		st      store.Station
		catMap  sql.NullString
		countIx sql.NullInt64
		updated sql.NullTime
	)
	if err := sc.Scan(&st.Name, &st.Address, &catMap, &countIx, &st.Active, &st.Alive, &st.ActualCount, &updated); err != nil {
		return store.Station{}, err
	}
	if catMap.Valid && strings.TrimSpace(catMap.String) != "" {
		if err := json.Unmarshal([]byte(catMap.String), &st.CategoryMap); err != nil {
			return store.Station{}, fmt.Errorf("station %q category map: %w", st.Name, err)
		}
	}
	if countIx.Valid {
		v := int(countIx.Int64)
		st.CountIndex = &v
	}
	if updated.Valid {
		st.UpdatedAt = updated.Time
	}
	return st, nil
}

func (s *DB) UpsertStation(ctx context.Context, st store.Station) error {
	if strings.TrimSpace(st.Name) == "" {
		return errors.New("station name is required")
	}
	var catMap any
	if len(st.CategoryMap) > 0 {
		b, err := json.Marshal(st.CategoryMap)
		if err != nil {
			return err
		}
		catMap = string(b)
	}
	var countIx any
	if st.CountIndex != nil {
		countIx = *st.CountIndex
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO stations(name, address, category_map, count_index, active, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address=excluded.address,
			category_map=excluded.category_map,
			count_index=excluded.count_index,
			active=excluded.active,
			updated_at=excluded.updated_at`),
		st.Name, st.Address, catMap, countIx, st.Active, time.Now().UTC())
	return err
}

func (s *DB) updateStation(ctx context.Context, station, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("station %q: %w", station, store.ErrNotFound)
	}
	return nil
}

func (s *DB) SetAlive(ctx context.Context, station string, alive bool, at time.Time) error {
	return s.updateStation(ctx, station,
		`UPDATE stations SET is_alive = ?, updated_at = ? WHERE name = ?`, alive, at.UTC(), station)
}

func (s *DB) SetActualCount(ctx context.Context, station string, count int64, at time.Time) error {
	return s.updateStation(ctx, station,
		`UPDATE stations SET actual_count = ?, updated_at = ? WHERE name = ?`, count, at.UTC(), station)
}

const faultColumns = `id, station, category, opened_at, closed_at`

func scanFault(sc scanner) (store.FaultRecord, error) {
	var r store.FaultRecord
	err := sc.Scan(&r.ID, &r.Station, &r.Category, &r.OpenedAt, &r.ClosedAt)
	return r, err
}

func (s *DB) latestOpen(ctx context.Context, station, category string) (store.FaultRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+faultColumns+` FROM faults
		WHERE station = ? AND category = ? AND closed_at IS NULL
		ORDER BY id DESC LIMIT 1`), station, category)
	return scanFault(row)
}

func (s *DB) OpenFault(ctx context.Context, station, category string, at time.Time) (store.FaultRecord, bool, error) {
	opened := at.UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO faults(station, category, opened_at) VALUES(?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`), station, category, opened).Scan(&id)
	switch {
	case err == nil:
		return store.FaultRecord{ID: id, Station: station, Category: category, OpenedAt: opened}, true, nil
	case errors.Is(err, sql.ErrNoRows):
		// the open-record index rejected the insert; hand back the holder
		rec, err := s.latestOpen(ctx, station, category)
		if err != nil {
			return store.FaultRecord{}, false, err
		}
		return rec, false, nil
	default:
		return store.FaultRecord{}, false, err
	}
}

func (s *DB) CloseLatestFault(ctx context.Context, station, category string, at time.Time) (store.FaultRecord, error) {
	rec, err := s.latestOpen(ctx, station, category)
	if errors.Is(err, sql.ErrNoRows) {
		return store.FaultRecord{}, fmt.Errorf("%s/%s: %w", station, category, store.ErrNoOpenFault)
	}
	if err != nil {
		return store.FaultRecord{}, err
	}
	closed := at.UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE faults SET closed_at = ? WHERE id = ? AND closed_at IS NULL`), closed, rec.ID)
	if err != nil {
		return store.FaultRecord{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.FaultRecord{}, fmt.Errorf("%s/%s: %w", station, category, store.ErrNoOpenFault)
	}
	rec.ClosedAt = sql.NullTime{Time: closed, Valid: true}
	return rec, nil
}

// OpenFaults lists unresolved faults of a station, or of all stations when
// station is empty.
func (s *DB) OpenFaults(ctx context.Context, station string) ([]store.FaultRecord, error) {
	q := `SELECT ` + faultColumns + ` FROM faults WHERE closed_at IS NULL`
	var args []any
	if station != "" {
		q += ` AND station = ?`
		args = append(args, station)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q+` ORDER BY id`), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.FaultRecord, 0)
	for rows.Next() {
		r, err := scanFault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DB) GetBaseline(ctx context.Context, station string, shiftNum int, shiftDate string) (store.BaselineRecord, error) {
	var r store.BaselineRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT station, shift_num, shift_date, baseline, current_count, last_updated
		FROM shift_data
		WHERE station = ? AND shift_num = ? AND shift_date = ?`), station, shiftNum, shiftDate).
		Scan(&r.Station, &r.ShiftNum, &r.ShiftDate, &r.Baseline, &r.Current, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BaselineRecord{}, fmt.Errorf("baseline %s shift %d %s: %w", station, shiftNum, shiftDate, store.ErrNotFound)
	}
	return r, err
}

func (s *DB) InsertBaseline(ctx context.Context, rec store.BaselineRecord) (store.BaselineRecord, error) {
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO shift_data(station, shift_num, shift_date, baseline, current_count, last_updated)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(station, shift_num, shift_date) DO NOTHING`),
		rec.Station, rec.ShiftNum, rec.ShiftDate, rec.Baseline, rec.Current, rec.LastUpdated.UTC())
	if err != nil {
		return store.BaselineRecord{}, err
	}
	return s.GetBaseline(ctx, rec.Station, rec.ShiftNum, rec.ShiftDate)
}

func (s *DB) UpdateCurrent(ctx context.Context, station string, shiftNum int, shiftDate string, current int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE shift_data SET current_count = ?, last_updated = ?
		WHERE station = ? AND shift_num = ? AND shift_date = ?`),
		current, at.UTC(), station, shiftNum, shiftDate)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("baseline %s shift %d %s: %w", station, shiftNum, shiftDate, store.ErrNotFound)
	}
	return nil
}

func (s *DB) ShiftWindows(ctx context.Context) ([]store.ShiftWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shift_num, start_time, end_time FROM shift_config ORDER BY shift_num`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.ShiftWindow, 0, 3)
	for rows.Next() {
		var w store.ShiftWindow
		if err := rows.Scan(&w.Number, &w.Start, &w.End); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetShiftWindows replaces the stored configuration atomically.
func (s *DB) SetShiftWindows(ctx context.Context, ws []store.ShiftWindow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM shift_config`); err != nil {
		return err
	}
	for _, w := range ws {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO shift_config(shift_num, start_time, end_time) VALUES(?, ?, ?)`),
			w.Number, w.Start, w.End); err != nil {
			return err
		}
	}
	return tx.Commit()
}
