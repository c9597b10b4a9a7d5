// Package sqlstore persists batch results in postgres or sqlite and serves
// them back by event id.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store implements pipeline.BatchLoader and the HTTP event lookup.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects with driver ("postgres" or "sqlite"), verifies the
// connection and creates the schema.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		// An in-memory sqlite database lives in a single connection.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	logger.Info("result store ready", "driver", driver)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// LoadBatch upserts every measurement and event of the batch in one
// transaction. An event's residuals replace any stored earlier.
func (s *Store) LoadBatch(ctx context.Context, batch domain.ResultBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertMeasurements(ctx, tx, batch.Measurements); err != nil {
		return err
	}
	for i := range batch.Events {
		if err := s.upsertEvent(ctx, tx, batch.Events[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("batch stored",
		"measurements", len(batch.Measurements),
		"events", len(batch.Events),
	)
	return nil
}

func (s *Store) upsertMeasurements(ctx context.Context, tx *sqlx.Tx, ms []domain.WaveformMeasurement) error {
	if len(ms) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(upsertMeasurement))
	if err != nil {
		return fmt.Errorf("prepare measurement upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range ms {
		_, err := stmt.ExecContext(ctx,
			m.EventID, m.Network, m.Station, m.Location, m.Channel,
			m.DistanceDeg, m.StationLatitude, m.StationLongitude, m.StationElevation,
			m.Me, m.SNR, m.SpectralIntegral, m.AnomalyScore, m.IsSaturated, m.SamplingRate,
			m.Rejection, m.ProcessedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert measurement %s: %w", m.ChannelID(), err)
		}
	}
	return nil
}

func (s *Store) upsertEvent(ctx context.Context, tx *sqlx.Tx, ev domain.EventResult) error {
	a := ev.Aggregate
	_, err := tx.ExecContext(ctx, s.db.Rebind(upsertEvent),
		a.EventID, a.Me, a.MeStdDev, a.WaveformsUsed, a.StationsTotal, a.Waveforms, a.Statistic,
		a.Magnitude, a.MagnitudeType, a.Latitude, a.Longitude, a.DepthKm, a.Time.UTC(), a.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", a.EventID, err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(deleteResiduals), a.EventID); err != nil {
		return fmt.Errorf("clear residuals for event %s: %w", a.EventID, err)
	}
	for _, r := range ev.Residuals {
		_, err := tx.ExecContext(ctx, s.db.Rebind(insertResidual),
			r.EventID, r.Network, r.Station, r.StationMe, r.Residual, r.DistanceDeg, r.Latitude, r.Longitude,
		)
		if err != nil {
			return fmt.Errorf("insert residual %s.%s for event %s: %w", r.Network, r.Station, a.EventID, err)
		}
	}
	return nil
}

// GetEvent returns the stored aggregate and residuals of an event, or
// domain.ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.EventResult, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectEvent), eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventResult{}, fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
	}
	if err != nil {
		return domain.EventResult{}, fmt.Errorf("get event %s: %w", eventID, err)
	}

	var rows []residualRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectResiduals), eventID); err != nil {
		return domain.EventResult{}, fmt.Errorf("get residuals for event %s: %w", eventID, err)
	}

	res := domain.EventResult{
		Aggregate: row.toDomain(),
		Residuals: make([]domain.StationResidual, 0, len(rows)),
	}
	for _, r := range rows {
		res.Residuals = append(res.Residuals, r.toDomain())
	}
	return res, nil
}

type eventRow struct {
	EventID       string          `db:"event_id"`
	Me            sql.NullFloat64 `db:"me"`
	MeStdDev      sql.NullFloat64 `db:"me_stddev"`
	WaveformsUsed int             `db:"waveforms_used"`
	Stations      int             `db:"stations"`
	Waveforms     int             `db:"waveforms"`
	Statistic     string          `db:"statistic"`
	Magnitude     sql.NullFloat64 `db:"magnitude"`
	MagnitudeType string          `db:"magnitude_type"`
	Latitude      sql.NullFloat64 `db:"latitude"`
	Longitude     sql.NullFloat64 `db:"longitude"`
	DepthKm       sql.NullFloat64 `db:"depth_km"`
	EventTime     sql.NullTime    `db:"event_time"`
	ProcessedAt   time.Time       `db:"processed_at"`
}

func (r eventRow) toDomain() domain.EventAggregate {
	return domain.EventAggregate{
		EventID:       r.EventID,
		Me:            nullable(r.Me),
		MeStdDev:      nullable(r.MeStdDev),
		WaveformsUsed: r.WaveformsUsed,
		StationsTotal: r.Stations,
		Waveforms:     r.Waveforms,
		Statistic:     r.Statistic,
		Magnitude:     r.Magnitude.Float64,
		MagnitudeType: r.MagnitudeType,
		Latitude:      r.Latitude.Float64,
		Longitude:     r.Longitude.Float64,
		DepthKm:       r.DepthKm.Float64,
		Time:          r.EventTime.Time.UTC(),
		ProcessedAt:   r.ProcessedAt.UTC(),
	}
}

type residualRow struct {
	EventID     string          `db:"event_id"`
	Network     string          `db:"network"`
	Station     string          `db:"station"`
	StationMe   sql.NullFloat64 `db:"station_me"`
	Residual    sql.NullFloat64 `db:"residual"`
	DistanceDeg sql.NullFloat64 `db:"distance_deg"`
	Latitude    sql.NullFloat64 `db:"latitude"`
	Longitude   sql.NullFloat64 `db:"longitude"`
}

func (r residualRow) toDomain() domain.StationResidual {
	return domain.StationResidual{
		EventID:     r.EventID,
		Network:     r.Network,
		Station:     r.Station,
		StationMe:   nullable(r.StationMe),
		Residual:    nullable(r.Residual),
		DistanceDeg: r.DistanceDeg.Float64,
		Latitude:    r.Latitude.Float64,
		Longitude:   r.Longitude.Float64,
	}
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return domain.Float(v.Float64)
}
