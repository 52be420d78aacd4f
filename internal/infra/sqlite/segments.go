package sqlite

import (
	"database/sql"
	"errors"

	"github.com/citytransit/etalearn/internal/domain"
)

// ─── Segment Registry Operations ─────────────────────────────────────

// LookupSegment resolves a natural key to its surrogate segment_id. A miss
// is not an error — the caller treats it as invalid_segment.
func (db *DB) LookupSegment(routeID string, directionID int, fromStopID, toStopID string) (int64, bool, error) {
	var id int64
	err := db.db.QueryRow(`
		SELECT segment_id FROM segments
		WHERE route_id = ? AND direction_id = ? AND from_stop_id = ? AND to_stop_id = ?
	`, routeID, directionID, fromStopID, toStopID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ListSegments returns the full segment directory, for loading an
// in-memory cache at startup.
func (db *DB) ListSegments() ([]domain.Segment, error) {
	rows, err := db.db.Query(`SELECT segment_id, route_id, direction_id, from_stop_id, to_stop_id FROM segments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		var s domain.Segment
		if err := rows.Scan(&s.SegmentID, &s.Key.RouteID, &s.Key.DirectionID, &s.Key.FromStopID, &s.Key.ToStopID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SeedSegment inserts a segment if its natural key is new. This is the
// surface the (out-of-scope) schedule importer uses; it is exposed here
// because the importer owns no storage of its own — segments live in
// this store.
func (db *DB) SeedSegment(key domain.SegmentKey, scheduleMeanByBin map[int]float64) (int64, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO segments (route_id, direction_id, from_stop_id, to_stop_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(route_id, direction_id, from_stop_id, to_stop_id) DO NOTHING
	`, key.RouteID, key.DirectionID, key.FromStopID, key.ToStopID)
	if err != nil {
		return 0, err
	}

	var segmentID int64
	if n, _ := res.RowsAffected(); n > 0 {
		segmentID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else {
		err = tx.QueryRow(`
			SELECT segment_id FROM segments
			WHERE route_id = ? AND direction_id = ? AND from_stop_id = ? AND to_stop_id = ?
		`, key.RouteID, key.DirectionID, key.FromStopID, key.ToStopID).Scan(&segmentID)
		if err != nil {
			return 0, err
		}
	}

	for binID, mean := range scheduleMeanByBin {
		if _, err := tx.Exec(`
			INSERT INTO segment_stats (segment_id, bin_id, schedule_mean_sec, last_update)
			VALUES (?, ?, ?, datetime('now'))
			ON CONFLICT(segment_id, bin_id) DO UPDATE SET schedule_mean_sec = excluded.schedule_mean_sec
		`, segmentID, binID, mean); err != nil {
			return 0, err
		}
	}

	return segmentID, tx.Commit()
}
