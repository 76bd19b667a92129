package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"

	"github.com/vigil-mod/vigil/message"
)

// wire frame from the gateway event stream
type streamEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"` // "message" or "delete"

	Message *message.RawMessageEvent `json:"message,omitempty"`
	// record ID of a platform-side deletion
	DeletedID string `json:"deleted_id,omitempty"`
}

// RunConsumer subscribes to the gateway's websocket event stream and feeds
// the pipeline worker pool, reconnecting with backoff on stream failure. The
// cursor resumes from the last persisted sequence.
func (s *Server) RunConsumer(ctx context.Context) error {
	ch := make(chan message.RawMessageEvent, 1024)
	done := make(chan error, 1)
	go func() {
		done <- s.engine.Run(ctx, ch, s.workers)
	}()
	defer close(ch)

	backoff := time.Second
	for {
		err := s.consumeOnce(ctx, ch)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			<-done
			return nil
		}
		s.logger.Error("event stream disconnected, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Server) consumeOnce(ctx context.Context, ch chan<- message.RawMessageEvent) error {
	cur, err := s.ReadLastCursor(ctx)
	if err != nil {
		return err
	}

	u, err := url.Parse(s.ingestHost)
	if err != nil {
		return fmt.Errorf("invalid ingest host URI: %w", err)
	}
	u.Path = "stream/messages"
	if cur != 0 {
		u.RawQuery = fmt.Sprintf("cursor=%d", cur)
	}
	s.logger.Info("subscribing to message event stream", "upstream", s.ingestHost, "cursor", cur)
	con, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{
		"User-Agent": []string{fmt.Sprintf("vigil/%s", versioninfo.Short())},
	})
	if err != nil {
		return fmt.Errorf("subscribing to event stream failed (dialing): %w", err)
	}
	defer con.Close()

	go func() {
		<-ctx.Done()
		con.Close()
	}()

	for {
		_, raw, err := con.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		var evt streamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			s.logger.Warn("skipping malformed stream event", "err", err)
			eventsReceived.WithLabelValues("malformed").Inc()
			continue
		}
		s.lastSeq.Store(evt.Seq)

		switch evt.Type {
		case "message":
			if evt.Message == nil {
				s.logger.Warn("message event with no payload", "seq", evt.Seq)
				continue
			}
			eventsReceived.WithLabelValues("message").Inc()
			select {
			case ch <- *evt.Message:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "delete":
			eventsReceived.WithLabelValues("delete").Inc()
			s.engine.MarkDeleted(evt.DeletedID)
		default:
			s.logger.Debug("ignoring unknown event type", "type", evt.Type, "seq", evt.Seq)
			eventsReceived.WithLabelValues("unknown").Inc()
		}
	}
}
