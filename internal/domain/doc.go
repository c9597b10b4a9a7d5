// Package domain models seismic waveforms, station energy magnitude
// measurements and event aggregates.
//
// # Input
//
// Each message describes one channel recording of one earthquake:
//
//	event     id, origin time, epicentre, depth (km), catalog magnitude
//	station   NET.STA.LOC.CHA, coordinates, elevation (m)
//	traces    start time, sampling rate (Hz), samples in counts
//	response  poles and zeros (rad/s), normalization factor, sensitivity
//
// A recording with gaps or overlaps arrives as more than one trace and is
// rejected by the estimator. The epicentral distance is optional; when absent
// it is computed on the sphere from the event and station coordinates.
//
// The event_waveform_count field tells the aggregation stage how many
// recordings to wait for before summarizing an event.
//
// # Output
//
// A [WaveformMeasurement] is emitted per recording. Its Me field is nil when
// the recording was rejected, and Rejection names why:
//
//	multiple-traces        gaps or overlaps
//	preprocess-failed      bandpass or response removal failed
//	low-snr                signal-to-noise ratio below threshold
//	spline-error           spectrum could not be resampled
//	distance-out-of-range  outside the calibrated distances
//	non-finite-magnitude   NaN or Inf magnitude
//
// An [EventAggregate] is emitted once per event together with the residual of
// every contributing station ([StationResidual]).
//
// Optional floats (Me, anomaly score, residuals) are pointers so that absent
// values serialize as JSON null instead of NaN.
package domain
