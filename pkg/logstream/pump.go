package logstream

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Pump reads r until end-of-stream, splitting on line feeds and publishing
// each completed line (newline included) to b in arrival order. A trailing
// chunk with no newline is discarded. The broadcast is closed when Pump
// returns, on success and on error alike. Interrupted reads are retried by
// the runtime's EINTR handling.
func Pump(r io.Reader, b *Broadcast) error {
	defer b.Close()

	br := bufio.NewReaderSize(r, 4096)
	for {
		line, err := br.ReadBytes('\n')
		if err == nil {
			b.Publish(line)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(err, "read child stdout")
	}
}

// Mirror relays every line received on sub to w in order. Falling behind the
// broadcast is non-fatal here: the skipped count is logged and relaying
// continues from the next retained line. Mirror returns once the stream
// closes, flushing w first if it is buffered, or when ctx is cancelled.
func Mirror(ctx context.Context, sub *Subscriber, w io.Writer) error {
	for {
		line, skipped, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return flush(w)
			}
			return err
		}
		if skipped > 0 {
			log.Warn().Uint64("skipped", skipped).Msg("stdout mirror lagged behind child output")
		}
		if _, err := w.Write(line); err != nil {
			return errors.Wrap(err, "mirror child stdout")
		}
	}
}

func flush(w io.Writer) error {
	f, ok := w.(interface{ Flush() error })
	if !ok {
		return nil
	}
	return errors.Wrap(f.Flush(), "flush mirrored stdout")
}
