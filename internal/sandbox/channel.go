package sandbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame, mirroring teacher firecracker's
// vsock.go maxVsockMessageBytes guard against a runaway length prefix.
const maxFrameBytes = 64 * 1024 * 1024

// Channel is the one-shot request/response transport between the parent
// and a sandbox worker. A Channel carries exactly one Request and
// receives exactly one Response; Close tears down the underlying
// transport.
type Channel interface {
	SendRequest(req *Request) error
	RecvRequest() (*Request, error)
	SendResponse(resp *Response) error
	RecvResponse() (*Response, error)
	Close() error
}

// frameReadWriter implements the length-prefixed framing shared by every
// Channel transport: a 4-byte big-endian length prefix followed by a
// JSON payload, identical in shape to teacher firecracker's vsock wire
// format.
type frameReadWriter struct {
	r io.Reader
	w io.Writer
}

func (f frameReadWriter) writeFrame(v any) error {
	data, err := marshalFrame(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err = f.w.Write(buf)
	return err
}

func (f frameReadWriter) readFrame(v any) error {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(f.r, lenBuf); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxFrameBytes {
		return fmt.Errorf("sandbox: frame of %d bytes exceeds the %d byte limit", n, maxFrameBytes)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(f.r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// pipeChannel is the default transport: the parent's side of a spawned
// child process's stdin/stdout pipes.
type pipeChannel struct {
	frameReadWriter
	closer io.Closer
}

// NewPipeChannel wraps a child process's stdin (write side) and stdout
// (read side) as a Channel. closer is called by Close; pass the child's
// stdin pipe if nothing else needs independent closing.
func NewPipeChannel(childStdout io.Reader, childStdin io.WriteCloser) Channel {
	return &pipeChannel{
		frameReadWriter: frameReadWriter{r: childStdout, w: childStdin},
		closer:          childStdin,
	}
}

func (p *pipeChannel) SendRequest(req *Request) error { return p.writeFrame(req) }
func (p *pipeChannel) RecvRequest() (*Request, error) {
	var r Request
	err := p.readFrame(&r)
	return &r, err
}
func (p *pipeChannel) SendResponse(resp *Response) error { return p.writeFrame(resp) }
func (p *pipeChannel) RecvResponse() (*Response, error) {
	var r Response
	if err := p.readFrame(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
func (p *pipeChannel) Close() error { return p.closer.Close() }

// workerChannel is the worker-process side: it reads the Request from
// its own stdin and writes the Response to its own stdout. Kept as a
// distinct type from pipeChannel (rather than reusing it symmetrically)
// because the worker never calls SendRequest/RecvResponse - only
// cmd/sandboxworker's main ever constructs one, and a narrower interface
// there would be a constant source of "read the wrong direction" bugs if
// merged into one generic type.
type workerChannel struct {
	frameReadWriter
}

// NewWorkerChannel wraps a worker process's own stdin/stdout.
func NewWorkerChannel(stdin io.Reader, stdout io.Writer) Channel {
	return &workerChannel{frameReadWriter{r: stdin, w: stdout}}
}

func (w *workerChannel) SendRequest(req *Request) error { return w.writeFrame(req) }
func (w *workerChannel) RecvRequest() (*Request, error) {
	var r Request
	if err := w.readFrame(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
func (w *workerChannel) SendResponse(resp *Response) error { return w.writeFrame(resp) }
func (w *workerChannel) RecvResponse() (*Response, error) {
	var r Response
	err := w.readFrame(&r)
	return &r, err
}
func (w *workerChannel) Close() error { return nil }
