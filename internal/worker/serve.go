package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/tether/internal/protocol"
)

// Serve reads request lines from r until EOF or ctx is done and writes one
// response line per request to w. Blank lines are skipped. A line that does
// not decode is answered with an empty id so the host drops it.
func Serve(ctx context.Context, h *Handler, r io.Reader, w io.Writer, logger *slog.Logger) error {
	scanner := protocol.NewLineScanner(r)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp *protocol.Response
		req, err := protocol.DecodeRequest(line)
		if err != nil {
			resp = errResp("", fmt.Sprintf("invalid request: %v", err))
		} else {
			resp = h.Handle(req)
			logger.Debug("handled request", "request_id", req.ID, "type", req.Type, "ok", resp.OK)
		}

		if err := writeResponse(out, resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin scanner error: %w", err)
	}
	return nil
}

func writeResponse(w *bufio.Writer, resp *protocol.Response) error {
	line, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return w.Flush()
}
