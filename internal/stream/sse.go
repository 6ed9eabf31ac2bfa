package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// eventReader splits a server-sent-event body into data payloads. A
// "[DONE]" payload is treated as end of stream.
type eventReader struct {
	reader *bufio.Reader
	body   io.Closer
}

func newEventReader(body io.ReadCloser) *eventReader {
	return &eventReader{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

func (r *eventReader) Next() ([]byte, error) {
	var data bytes.Buffer

	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() == 0 {
				if err == io.EOF {
					return nil, io.EOF
				}
				continue
			}
			return r.finish(data.Bytes())
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
		}

		if err == io.EOF {
			if data.Len() == 0 {
				return nil, io.EOF
			}
			return r.finish(data.Bytes())
		}
	}
}

func (r *eventReader) finish(payload []byte) ([]byte, error) {
	if strings.TrimSpace(string(payload)) == "[DONE]" {
		return nil, io.EOF
	}
	return payload, nil
}

func (r *eventReader) Close() error {
	if r.body != nil {
		return r.body.Close()
	}
	return nil
}
