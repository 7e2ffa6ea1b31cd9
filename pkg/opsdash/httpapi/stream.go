package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vpbank/opsdash/pkg/opsdash/registry"
)

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// streamHandler serves m's stream from the oldest retained line onwards.
// Each line is one "data:" frame. After Heartbeat with nothing to send the
// module's heartbeat text goes out instead, or an SSE comment when the module
// has none. The response ends when the client goes away or CloseStreams is
// called.
func (s *Server) streamHandler(m *registry.Module) gin.HandlerFunc {
	heartbeat := m.Def().Heartbeat
	return func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		stop := context.AfterFunc(s.base, cancel)
		defer stop()

		done := s.cfg.Metrics.SubscriberAdded(m.ID())
		defer done()

		SetSSEHeaders(c.Writer)
		c.Status(http.StatusOK)
		c.Writer.Flush()

		cur := m.Stream().Subscribe()
		idle := s.cfg.Now()
		for {
			l, ok, err := cur.Next(ctx, s.cfg.Poll)
			if err != nil {
				return
			}

			switch {
			case ok:
				err = writeData(c.Writer, l)
			case s.cfg.Now().Sub(idle) < s.cfg.Heartbeat:
				continue
			case heartbeat != "":
				err = writeData(c.Writer, s.cfg.Formatter.Heartbeat(heartbeat, s.cfg.Now()))
			default:
				_, err = io.WriteString(c.Writer, ": ping\n\n")
			}
			if err != nil {
				s.logger.Debug("httpapi: stream write failed", "module", m.ID(), "error", err.Error())
				return
			}
			c.Writer.Flush()
			idle = s.cfg.Now()
		}
	}
}

// lineBreaks folds every SSE line terminator (CRLF, CR, LF) into LF.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// writeData writes one SSE event. Embedded line breaks of any kind become
// extra data lines, which the client joins back with "\n".
func writeData(w io.Writer, data string) error {
	var b strings.Builder
	for _, l := range strings.Split(lineBreaks.Replace(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
