// Package chrono canonicalizes wall-clock instants to the minute buckets
// that the catalog keys records by. Ported from the original
// prism::indexed::utility::SnapToMinute (src/chrono-snap.cpp): a time
// point that is within the first 30 seconds of its minute snaps down;
// otherwise it snaps up to the next minute.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package chrono

import "time"

const halfMinute = 30 * time.Second

// SnapToMinute returns the number of whole minutes since the Unix epoch
// that tp canonicalizes to: if tp is less than 30s past its containing
// minute it rounds down, otherwise it rounds up. The function is total
// and deterministic - SnapToMinute(SnapToMinute(tp)) == SnapToMinute(tp).
func SnapToMinute(tp time.Time) uint64 {
	ms := tp.UnixMilli()
	const minuteMs = int64(time.Minute / time.Millisecond)

	minutes := ms / minuteMs
	rem := ms % minuteMs
	if rem < 0 {
		// UnixMilli before the epoch: normalize rem into [0, minuteMs).
		rem += minuteMs
		minutes--
	}

	const halfMinuteMs = int64(halfMinute / time.Millisecond)
	if rem >= halfMinuteMs {
		minutes++
	}
	return uint64(minutes)
}

// FromMinutes reconstructs the canonical instant (start of minute) that
// a snapped time_value represents.
func FromMinutes(minutes uint64) time.Time {
	return time.UnixMilli(int64(minutes) * int64(time.Minute/time.Millisecond)).UTC()
}
