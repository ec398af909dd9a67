package simpleasset

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// AssetCreated does nothing and returns nil
func (n *NoopEventSink) AssetCreated(ctx context.Context, asset *Asset) error {
	return nil
}

// AssetDeleted does nothing and returns nil
func (n *NoopEventSink) AssetDeleted(ctx context.Context, result *DeleteResult) error {
	return nil
}

// OrphanRecorded does nothing and returns nil
func (n *NoopEventSink) OrphanRecorded(ctx context.Context, task TaskResult) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink. A nil logger uses slog.Default().
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// AssetCreated logs the asset creation event
func (l *LoggingEventSink) AssetCreated(ctx context.Context, asset *Asset) error {
	l.logger.InfoContext(ctx, "Asset created",
		"asset_id", asset.ID,
		"name", asset.Name,
		"type", asset.Kind,
		"storage_path", asset.StoragePath)
	return nil
}

// AssetDeleted logs the delete outcome. Partial deletes are logged as warnings
// so remnants show up next to their storage path.
func (l *LoggingEventSink) AssetDeleted(ctx context.Context, result *DeleteResult) error {
	level := slog.LevelInfo
	if !result.Complete() {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "Asset deleted",
		"asset_id", result.AssetID,
		"outcome", result.Outcome,
		"remnant", result.Remnant,
		"storage_path", result.StoragePath)
	return nil
}

// OrphanRecorded logs the orphaned blob left by a failed upload
func (l *LoggingEventSink) OrphanRecorded(ctx context.Context, task TaskResult) error {
	l.logger.WarnContext(ctx, "Orphaned blob recorded",
		"file_name", task.FileName,
		"storage_path", task.StoragePath,
		"cause", task.Cause)
	return nil
}
