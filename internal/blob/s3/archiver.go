package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const (
	archiveContentType = "application/json"
	archivePageSize    = 100
	// multipartThreshold switches large documents to the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// StreamSource is the read surface the archiver needs from the engine.
type StreamSource interface {
	ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error)
	ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error)
	Vault(ctx context.Context, stream domain.Address) (domain.TokenVault, error)
}

// Archiver writes one JSON document per settled stream. Objects already in
// the bucket are left alone, so repeated runs are idempotent.
type Archiver struct {
	source StreamSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(source StreamSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		nowFn:  time.Now,
	}
}

// ArchivePath is the object key of a stream settled at settledAt:
//
//	streams/2026/10/0x<address>.json
func ArchivePath(stream domain.Address, settledAt time.Time) string {
	return archivePrefix(settledAt) + stream.Hex() + ".json"
}

func archivePrefix(settledAt time.Time) string {
	settledAt = settledAt.UTC()
	return fmt.Sprintf("streams/%04d/%02d/", settledAt.Year(), int(settledAt.Month()))
}

// archivedSet remembers, per month prefix, which objects a pass has seen in
// the bucket. Each prefix is listed at most once per pass.
type archivedSet struct {
	reader domain.BlobReader
	months map[string]map[string]struct{}
}

func (a *archivedSet) has(ctx context.Context, path, prefix string) (bool, error) {
	keys, ok := a.months[prefix]
	if !ok {
		infos, err := a.reader.List(ctx, prefix)
		if err != nil {
			return false, fmt.Errorf("s3blob: archive list %s: %w", prefix, err)
		}
		keys = make(map[string]struct{}, len(infos))
		for _, info := range infos {
			keys[info.Path] = struct{}{}
		}
		a.months[prefix] = keys
	}
	_, found := keys[path]
	return found, nil
}

func (a *archivedSet) add(path, prefix string) {
	if keys, ok := a.months[prefix]; ok {
		keys[path] = struct{}{}
	}
}

func settledAt(s domain.Stream) time.Time {
	if s.IsResolved {
		return time.Unix(s.ResolvedAt, 0)
	}
	return time.Unix(s.CanceledAt, 0)
}

// ArchiveSettled archives every stream settled before the cutoff and
// returns how many new documents were written.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	var written int64
	seen := &archivedSet{reader: a.reader, months: make(map[string]map[string]struct{})}
	for offset := 0; ; offset += archivePageSize {
		streams, err := a.source.ListStreams(ctx,
			domain.StreamFilter{SettledOnly: true},
			domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return written, fmt.Errorf("s3blob: archive list streams: %w", err)
		}
		for _, s := range streams {
			at := settledAt(s)
			if !at.Before(before) {
				continue
			}
			ok, err := a.archiveOne(ctx, seen, s, at)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
		if len(streams) < archivePageSize {
			break
		}
	}

	if written > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.streams", map[string]any{
			"count":  written,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return written, nil
}

func (a *Archiver) archiveOne(ctx context.Context, seen *archivedSet, s domain.Stream, at time.Time) (bool, error) {
	path, prefix := ArchivePath(s.Address, at), archivePrefix(at)
	exists, err := seen.has(ctx, path, prefix)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	doc := domain.StreamArchive{Stream: s, ArchivedAt: a.nowFn().UTC()}
	vault, err := a.source.Vault(ctx, s.Address)
	switch {
	case err == nil:
		doc.Vault = &vault
	case errors.Is(err, domain.ErrNotFound):
	default:
		return false, fmt.Errorf("s3blob: archive vault %s: %w", s.Address, err)
	}
	doc.Predictions, err = a.source.ListPredictions(ctx, s.Address)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive predictions %s: %w", s.Address, err)
	}
	if doc.Predictions == nil {
		doc.Predictions = []domain.Prediction{}
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive marshal %s: %w", s.Address, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return false, err
	}
	seen.add(path, prefix)

	a.logger.InfoContext(ctx, "archiver: stream archived",
		slog.String("stream", s.Address.Hex()),
		slog.String("path", path),
		slog.Int("predictions", len(doc.Predictions)),
	)
	return true, nil
}

// Load reads back the archived document at path.
func (a *Archiver) Load(ctx context.Context, path string) (domain.StreamArchive, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.StreamArchive{}, err
	}
	defer body.Close()

	var doc domain.StreamArchive
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return domain.StreamArchive{}, fmt.Errorf("s3blob: decode archive %s: %w", path, err)
	}
	return doc, nil
}

var _ domain.Archiver = (*Archiver)(nil)
