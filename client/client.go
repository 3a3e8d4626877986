// Package client consumes the streaming analysis API: it uploads a
// document bundle, decodes the response stream back into events and
// folds them into a live transcript.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/frame"
	"github.com/amrandil/docstream/transcript"
)

const streamPath = "/api/v1/analyze/stream"

// Client talks to one docstream server.
type Client struct {
	base string
	hc   *http.Client
	log  logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLogger sets the client's logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   http.DefaultClient,
		log:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is one in-flight analysis stream. Events arrive on Events
// until the server closes the stream or the session is aborted; after
// the channel closes, Err reports how the stream ended.
type Session struct {
	events chan event.Event
	cancel context.CancelFunc
	done   chan struct{}

	err     error
	dropped uint64
}

// Events returns the channel of decoded events, closed at end of
// stream.
func (s *Session) Events() <-chan event.Event {
	return s.events
}

// Err reports the stream's end state. Valid after Events is closed. A
// server that finished its session cleanly yields nil even if the last
// event was analysis_error; transport-level failures yield the error.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Dropped reports how many malformed payloads were discarded.
func (s *Session) Dropped() uint64 {
	<-s.done
	return s.dropped
}

// Close aborts the session. The server notices the dropped connection
// on its next write and cancels its side.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Analyze uploads the bundle and starts consuming the event stream.
// The returned Session delivers events until a terminal event or a
// transport failure; callers abort early via Close or ctx.
func (c *Client) Analyze(ctx context.Context, docs []analysis.Document, opts analysis.Options) (*Session, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, doc := range docs {
		fw, err := mw.CreateFormFile("files", doc.Filename)
		if err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
		if _, err := fw.Write(doc.Data); err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
	}
	optBlob, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	if err := mw.WriteField("options", string(optBlob)); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+streamPath, &body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("analyze request rejected: %s: %s",
			resp.Status, strings.TrimSpace(string(detail)))
	}

	s := &Session{
		events: make(chan event.Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.consume(ctx, c.log, resp.Body)
	return s, nil
}

// consume reads the response stream chunk by chunk, reassembles frames
// and delivers parsed events in arrival order.
func (s *Session) consume(ctx context.Context, log logr.Logger, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.events)
	defer body.Close()

	dec := frame.NewDecoder(frame.WithLogger(log))
	router := transcript.NewRouter(log)
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				e, ok := router.Route(payload)
				if !ok {
					continue
				}
				select {
				case s.events <- e:
				case <-ctx.Done():
					s.err = ctx.Err()
					s.dropped = router.Dropped()
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.err = err
			} else if ctx.Err() != nil {
				s.err = ctx.Err()
			}
			s.dropped = router.Dropped()
			return
		}
	}
}
