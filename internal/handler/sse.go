package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/relay"
)

// streamWriter writes OpenAI-style "data: ..." frames. Headers are sent with
// the first frame so a request that fails before any content can still get
// a JSON error response.
type streamWriter struct {
	c       *gin.Context
	started bool
}

func newStreamWriter(c *gin.Context) *streamWriter {
	return &streamWriter{c: c}
}

func (w *streamWriter) start() {
	if w.started {
		return
	}
	w.started = true

	w.c.Header("Content-Type", "text/event-stream")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("Connection", "keep-alive")
	w.c.Header("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}

// data writes one frame and flushes it.
func (w *streamWriter) data(payload string) error {
	w.start()
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// json writes v as one frame.
func (w *streamWriter) json(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.data(string(raw))
}

// done writes the terminal marker.
func (w *streamWriter) done() error {
	return w.data(relay.DoneMarker)
}
