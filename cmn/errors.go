// Package cmn provides common low-level types and errors shared by the
// fs, catalog, and ibuf packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// ErrInvalidConfig is returned (and, per spec, fatal) when a buffer or
// store is constructed with an unusable configuration: empty name,
// unsafe root, or a non-positive quota.
type ErrInvalidConfig struct {
	Reason string
}

func (e *ErrInvalidConfig) Error() string { return "invalid config: " + e.Reason }

func NewErrInvalidConfig(format string, a ...any) *ErrInvalidConfig {
	return &ErrInvalidConfig{Reason: fmt.Sprintf(format, a...)}
}

// ErrConflict is what Buffer translates catalog.ErrConflict into when
// Catalog.Insert hits a (time_value, device) uniqueness violation;
// Buffer treats it as a compensation trigger.
type ErrConflict struct {
	TimeValue uint64
	Device    uint32
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("catalog: conflict on (time_value=%d, device=%d)", e.TimeValue, e.Device)
}
