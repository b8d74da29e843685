package output

import (
	"context"

	"github.com/tidewatch/chronocrawl/internal/models"
)

// Writer flushes extracted records to durable storage. Write must make the
// record durable before returning: the checkpoint only marks an item done
// after its record has been written.
type Writer interface {
	Write(ctx context.Context, record *models.WatchRecord) error
	Close(ctx context.Context) error
}
