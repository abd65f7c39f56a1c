// Copyright 2026 The Toolgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import "log/slog"

// Sink receives completed audit events. Transport and storage are the
// sink's concern; the emitter's contract is one Write per tool call.
type Sink interface {
	Write(event Event) error
	Flush() error
	Close() error
}

const (
	defaultFsync                = true
	defaultRotateSize     int64 = 100 * 1024 * 1024
	defaultAnchorInterval       = 100
)

// SinkOption configures a Sink implementation.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	fsync          bool
	rotateSize     int64
	anchorInterval int
	logger         *slog.Logger
}

func defaultSinkConfig() sinkConfig {
	return sinkConfig{
		fsync:          defaultFsync,
		rotateSize:     defaultRotateSize,
		anchorInterval: defaultAnchorInterval,
	}
}

// WithFsync configures whether writes call fsync before returning.
func WithFsync(enabled bool) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.fsync = enabled
	}
}

// WithRotateSize configures the maximum JSONL file size in bytes.
func WithRotateSize(size int64) SinkOption {
	return func(cfg *sinkConfig) {
		if size > 0 {
			cfg.rotateSize = size
		}
	}
}

// WithAnchorInterval configures how often chain anchors are written.
func WithAnchorInterval(events int) SinkOption {
	return func(cfg *sinkConfig) {
		if events > 0 {
			cfg.anchorInterval = events
		}
	}
}

// WithLogger configures the logger for sink operations.
// Defaults to slog.Default() if not set.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// SlogSink writes audit events as structured log records. It is the
// default sink for embedded use; no hash chain is maintained because the
// log transport owns durability.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Write emits the event as a single structured log record.
func (s *SlogSink) Write(event Event) error {
	attrs := []any{
		"event_id", event.ID,
		"action", event.Action,
		"tool", event.Tool,
		"decision", event.Decision,
		"reason", event.Reason,
		"policy_id", event.PolicyID,
		"layer", event.Layer,
		"latency_ms", event.LatencyMS,
		"arg_keys", event.ArgumentsSummary.Keys,
		"arg_count", event.ArgumentsSummary.KeyCount,
	}
	if event.Actor != "" {
		attrs = append(attrs, "actor", event.Actor)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if len(event.Flags) > 0 {
		attrs = append(attrs, "flags", event.Flags)
	}
	if event.Arguments != nil {
		attrs = append(attrs, "arguments", event.Arguments)
	}
	if event.Result != nil {
		attrs = append(attrs, "result", event.Result)
	}

	s.logger.Info("audit: tool_call", attrs...)
	return nil
}

// Flush is a no-op for log-backed sinks.
func (s *SlogSink) Flush() error { return nil }

// Close is a no-op for log-backed sinks.
func (s *SlogSink) Close() error { return nil }
