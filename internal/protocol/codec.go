package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes caps a single protocol line in either direction.
const MaxLineBytes = 1 << 20

// EncodeRequest serializes req as a single JSON line terminated by '\n'.
// encoding/json escapes control characters inside strings, so the encoded
// object never contains a raw newline.
func EncodeRequest(req *Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if req.ID == "" {
		return nil, fmt.Errorf("request missing required field: id")
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unsupported request type: %q", req.Type)
	}
	return encodeLine(req)
}

// WriteRequest encodes req and writes it to w with a single Write call.
func WriteRequest(w io.Writer, req *Request) error {
	line, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// wireResponse mirrors Response with pointers so missing required fields
// can be told apart from zero values.
type wireResponse struct {
	ID    *string        `json:"id"`
	OK    *bool          `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// DecodeResponse parses one line from the worker's stdout.
// Returns an error if the line is not a JSON object or lacks id/ok.
func DecodeResponse(line []byte) (*Response, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var w wireResponse
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if w.ID == nil || *w.ID == "" {
		return nil, fmt.Errorf("response missing required field: id")
	}
	if w.OK == nil {
		return nil, fmt.Errorf("response missing required field: ok")
	}

	return &Response{
		ID:    *w.ID,
		OK:    *w.OK,
		Data:  w.Data,
		Error: w.Error,
	}, nil
}

// DecodeRequest parses one line read by a worker from its stdin.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeResponse serializes resp as a single JSON line terminated by '\n'.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}
	return encodeLine(resp)
}

// NewLineScanner returns a scanner splitting r into lines of at most
// MaxLineBytes.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return sc
}

// ReadLines calls fn with every line read from r, without its terminator.
// A line longer than limit is discarded up to the next '\n' and its size is
// passed to onOversize instead; reading then carries on with the next line.
// ReadLines returns nil at EOF and the read error otherwise.
func ReadLines(r io.Reader, limit int, fn func(line []byte), onOversize func(n int)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	skipping := false
	dropped := 0

	for {
		chunk, err := br.ReadSlice('\n')
		switch {
		case skipping:
			dropped += len(chunk)
		case len(buf)+len(chunk) > limit+1:
			skipping = true
			dropped = len(buf) + len(chunk)
			buf = buf[:0]
		default:
			buf = append(buf, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if skipping {
			if onOversize != nil {
				onOversize(dropped)
			}
			skipping, dropped = false, 0
		} else if line := bytes.TrimRight(buf, "\r\n"); len(line) > 0 {
			out := make([]byte, len(line))
			copy(out, line)
			fn(out)
		}
		buf = buf[:0]

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	// Encode terminates with exactly one '\n'.
	return buf.Bytes(), nil
}
