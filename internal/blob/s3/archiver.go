package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymirror/copybot/internal/domain"
)

// Archiver pages cold copy-log rows out of the primary store into JSONL
// objects. Rows are deleted only after the upload succeeds, so a failed
// cycle leaves the database untouched and retries next time.
type Archiver struct {
	writer        domain.BlobWriter
	copyLog       domain.CopyLogStore
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. retentionDays is how long rows stay in
// the primary store before being paged out.
func NewArchiver(writer domain.BlobWriter, copyLog domain.CopyLogStore, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		writer:        writer,
		copyLog:       copyLog,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the configured interval until ctx is cancelled. One cycle
// runs at startup so a long-stopped bot catches up immediately.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.ArchiveOnce(ctx); err != nil {
		a.logger.Warn("archive cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveOnce uploads every copy-log row past retention as one JSONL object
// and then deletes the archived rows.
func (a *Archiver) ArchiveOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)

	entries, err := a.copyLog.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: list archivable rows: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("s3blob: encode row %s: %w", e.ID, err)
		}
	}

	key := fmt.Sprintf("copy_log/%s/%s.jsonl",
		cutoff.Format("2006/01"),
		time.Now().UTC().Format("20060102T150405Z"),
	)
	if err := a.writer.Write(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return err
	}

	deleted, err := a.copyLog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: delete archived rows: %w", err)
	}
	a.logger.Info("copy log archived",
		slog.String("key", key),
		slog.Int("rows", len(entries)),
		slog.Int64("deleted", deleted),
	)
	return nil
}
