package sqlstore

// schema is applied statement by statement on Open. Column types are
// accepted by both postgres and sqlite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		event_id          TEXT NOT NULL,
		network           TEXT NOT NULL,
		station           TEXT NOT NULL,
		location          TEXT NOT NULL,
		channel           TEXT NOT NULL,
		distance_deg      DOUBLE PRECISION,
		station_latitude  DOUBLE PRECISION,
		station_longitude DOUBLE PRECISION,
		station_elevation DOUBLE PRECISION,
		me                DOUBLE PRECISION,
		snr               DOUBLE PRECISION,
		spectral_integral DOUBLE PRECISION,
		anomaly_score     DOUBLE PRECISION,
		is_saturated      BOOLEAN NOT NULL DEFAULT FALSE,
		sampling_rate     DOUBLE PRECISION,
		rejection         TEXT NOT NULL DEFAULT '',
		processed_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (event_id, network, station, location, channel)
	)`,
	`CREATE TABLE IF NOT EXISTS event_aggregates (
		event_id       TEXT PRIMARY KEY,
		me             DOUBLE PRECISION,
		me_stddev      DOUBLE PRECISION,
		waveforms_used INTEGER NOT NULL,
		stations       INTEGER NOT NULL,
		waveforms      INTEGER NOT NULL,
		statistic      TEXT NOT NULL,
		magnitude      DOUBLE PRECISION,
		magnitude_type TEXT NOT NULL DEFAULT '',
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		depth_km       DOUBLE PRECISION,
		event_time     TIMESTAMP,
		processed_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS station_residuals (
		event_id     TEXT NOT NULL,
		network      TEXT NOT NULL,
		station      TEXT NOT NULL,
		station_me   DOUBLE PRECISION,
		residual     DOUBLE PRECISION,
		distance_deg DOUBLE PRECISION,
		latitude     DOUBLE PRECISION,
		longitude    DOUBLE PRECISION,
		PRIMARY KEY (event_id, network, station)
	)`,
}

const upsertMeasurement = `
	INSERT INTO measurements (
		event_id, network, station, location, channel,
		distance_deg, station_latitude, station_longitude, station_elevation,
		me, snr, spectral_integral, anomaly_score, is_saturated, sampling_rate,
		rejection, processed_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (event_id, network, station, location, channel) DO UPDATE SET
		distance_deg = EXCLUDED.distance_deg,
		station_latitude = EXCLUDED.station_latitude,
		station_longitude = EXCLUDED.station_longitude,
		station_elevation = EXCLUDED.station_elevation,
		me = EXCLUDED.me,
		snr = EXCLUDED.snr,
		spectral_integral = EXCLUDED.spectral_integral,
		anomaly_score = EXCLUDED.anomaly_score,
		is_saturated = EXCLUDED.is_saturated,
		sampling_rate = EXCLUDED.sampling_rate,
		rejection = EXCLUDED.rejection,
		processed_at = EXCLUDED.processed_at
`

const upsertEvent = `
	INSERT INTO event_aggregates (
		event_id, me, me_stddev, waveforms_used, stations, waveforms, statistic,
		magnitude, magnitude_type, latitude, longitude, depth_km, event_time, processed_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (event_id) DO UPDATE SET
		me = EXCLUDED.me,
		me_stddev = EXCLUDED.me_stddev,
		waveforms_used = EXCLUDED.waveforms_used,
		stations = EXCLUDED.stations,
		waveforms = EXCLUDED.waveforms,
		statistic = EXCLUDED.statistic,
		magnitude = EXCLUDED.magnitude,
		magnitude_type = EXCLUDED.magnitude_type,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		depth_km = EXCLUDED.depth_km,
		event_time = EXCLUDED.event_time,
		processed_at = EXCLUDED.processed_at
`

const deleteResiduals = `DELETE FROM station_residuals WHERE event_id = ?`

const insertResidual = `
	INSERT INTO station_residuals (
		event_id, network, station, station_me, residual, distance_deg, latitude, longitude
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const selectEvent = `
	SELECT event_id, me, me_stddev, waveforms_used, stations, waveforms, statistic,
		magnitude, magnitude_type, latitude, longitude, depth_km, event_time, processed_at
	FROM event_aggregates
	WHERE event_id = ?
`

const selectResiduals = `
	SELECT event_id, network, station, station_me, residual, distance_deg, latitude, longitude
	FROM station_residuals
	WHERE event_id = ?
	ORDER BY network, station
`
