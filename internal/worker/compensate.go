package worker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/local/extractor/internal/queue"
)

// compensate reverses partially-applied side effects after an unrecoverable
// failure. Each step runs independently and best-effort: one failing delete
// must not stop the others, and nothing here is re-thrown. blobKey is empty
// when the durable write never happened.
func (w *Worker) compensate(ctx context.Context, p queue.Payload, blobKey string, lg zerolog.Logger) {
	if blobKey != "" {
		if err := w.blobs.Delete(ctx, p.UserID, blobKey); err != nil {
			lg.Error().Err(err).Str("blob", blobKey).Msg("compensation: blob delete failed")
		}
	}

	// Children before parent.
	if err := w.records.DeletePageResults(ctx, p.RecordID); err != nil {
		lg.Error().Err(err).Msg("compensation: page results delete failed")
	}
	if err := w.records.DeleteRecord(ctx, p.RecordID); err != nil {
		lg.Error().Err(err).Msg("compensation: record delete failed")
	}
	if err := w.records.DeleteUpload(ctx, p.UploadID); err != nil {
		lg.Error().Err(err).Msg("compensation: upload delete failed")
	}
	lg.Info().Msg("compensation finished")
}
