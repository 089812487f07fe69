// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"

	"github.com/netascode/go-ine"
	"go.uber.org/zap"
)

// zapLogger adapts a zap logger to ine.Logger
type zapLogger struct {
	l *zap.SugaredLogger
}

var _ ine.Logger = zapLogger{}

func newZapLogger(l *zap.Logger) zapLogger {
	return zapLogger{l: l.Named("ine").Sugar()}
}

func (z zapLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z zapLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Infow(msg, keysAndValues...)
}

func (z zapLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Warnw(msg, keysAndValues...)
}

func (z zapLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Errorw(msg, keysAndValues...)
}
