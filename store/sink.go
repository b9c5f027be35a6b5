package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
	"github.com/theoremus-urban-solutions/transit-departures/utils"
)

var _ entity.Sink = (*DB)(nil)

// Register records a binding. Registering an existing unique ID updates its names.
func (db *DB) Register(ctx context.Context, b *entity.Binding) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO entities (unique_id, entity_id, name, station_id, kind, line, direction, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET entity_id = excluded.entity_id, name = excluded.name`,
		b.UniqueID, b.EntityID, b.Name, b.View.StationID, string(b.View.Kind),
		b.View.Selector.Line, b.View.Selector.Direction, utils.Iso8601(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", b.EntityID, err)
	}
	return nil
}

// Unregister deletes a binding together with its state and history.
func (db *DB) Unregister(ctx context.Context, b *entity.Binding) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM entities WHERE unique_id = ?", b.UniqueID); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", b.EntityID, err)
	}
	return nil
}

// Bindings returns every stored binding ordered by entity ID. Station names are not
// stored, so StationName is empty.
func (db *DB) Bindings(ctx context.Context) ([]*entity.Binding, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT unique_id, entity_id, name, station_id, kind, line, direction
		FROM entities ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Binding
	for rows.Next() {
		var (
			b    entity.Binding
			kind string
		)
		if err := rows.Scan(&b.UniqueID, &b.EntityID, &b.Name, &b.View.StationID, &kind,
			&b.View.Selector.Line, &b.View.Selector.Direction); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		b.View.Kind = transit.ViewKind(kind)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// Write upserts the latest state and appends it to the history.
func (db *DB) Write(ctx context.Context, st entity.State) error {
	attrs, err := json.Marshal(st.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes of %s: %w", st.EntityID, err)
	}
	updatedAt := utils.Iso8601(st.UpdatedAt)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_states (unique_id, value, unit, icon, available, stale, attributes, fetched_at_utc, revision, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			value = excluded.value, unit = excluded.unit, icon = excluded.icon,
			available = excluded.available, stale = excluded.stale, attributes = excluded.attributes,
			fetched_at_utc = excluded.fetched_at_utc, revision = excluded.revision,
			updated_at_utc = excluded.updated_at_utc`,
		st.UniqueID, nullInt(st.Value), st.Unit, st.Icon, st.Available, st.Stale, string(attrs),
		nullTime(st.FetchedAt), st.Revision, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert state of %s: %w", st.EntityID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_state_history (unique_id, value, available, stale, revision, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.UniqueID, nullInt(st.Value), st.Available, st.Stale, st.Revision, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history of %s: %w", st.EntityID, err)
	}
	return tx.Commit()
}

// States returns the stored latest states, optionally for one station, ordered by
// entity ID.
func (db *DB) States(ctx context.Context, stationID string) ([]entity.State, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.unique_id, e.entity_id, e.name, e.station_id, e.kind,
		       s.value, s.unit, s.icon, s.available, s.stale, s.attributes,
		       s.fetched_at_utc, s.revision, s.updated_at_utc
		FROM entities e JOIN entity_states s ON s.unique_id = e.unique_id
		WHERE ? = '' OR e.station_id = ?
		ORDER BY e.entity_id`, stationID, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.State
	for rows.Next() {
		var (
			st        entity.State
			kind      string
			value     sql.NullInt64
			attrs     string
			fetchedAt sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&st.UniqueID, &st.EntityID, &st.Name, &st.StationID, &kind,
			&value, &st.Unit, &st.Icon, &st.Available, &st.Stale, &attrs,
			&fetchedAt, &st.Revision, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		st.Kind = transit.ViewKind(kind)
		if value.Valid {
			v := int(value.Int64)
			st.Value = &v
		}
		if err := json.Unmarshal([]byte(attrs), &st.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", st.EntityID, err)
		}
		st.FetchedAt = parseTime(fetchedAt.String)
		st.UpdatedAt = parseTime(updatedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// HistoryPoint is one recorded state change.
type HistoryPoint struct {
	Value     *int      `json:"value"`
	Available bool      `json:"available"`
	Stale     bool      `json:"stale"`
	Revision  uint64    `json:"revision"`
	At        time.Time `json:"at"`
}

// ErrUnknownEntity is returned by History for an entity ID that is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

// History returns up to limit most recent changes of an entity, newest first. The
// entity may be named by unique ID or entity ID.
func (db *DB) History(ctx context.Context, id string, limit int) ([]HistoryPoint, error) {
	var uniqueID string
	err := db.conn.QueryRowContext(ctx,
		"SELECT unique_id FROM entities WHERE unique_id = ? OR entity_id = ? LIMIT 1", id, id).Scan(&uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", id, err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT value, available, stale, revision, updated_at_utc
		FROM entity_state_history WHERE unique_id = ?
		ORDER BY id DESC LIMIT ?`, uniqueID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryPoint
	for rows.Next() {
		var (
			p     HistoryPoint
			value sql.NullInt64
			at    string
		)
		if err := rows.Scan(&value, &p.Available, &p.Stale, &p.Revision, &at); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if value.Valid {
			v := int(value.Int64)
			p.Value = &v
		}
		p.At = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return utils.Iso8601(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
