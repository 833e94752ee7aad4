package safe

import (
	"context"
	"io"

	"github.com/secmon-lab/badgewise/pkg/utils/logging"
)

// Close closes c and logs a failure to the context logger. A nil closer is ignored.
func Close(ctx context.Context, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logging.From(ctx).Warn("failed to close", "error", err)
	}
}

// Write writes data to w and logs a failure, e.g. a client gone before the response ended
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Warn("failed to write", "error", err, "bytes", len(data))
	}
}
