// Package feed accepts the live status stream over a WebSocket. The
// upstream monitor connects and pushes JSON batches of observations;
// delivery is at-least-once, so the ingest pipeline dedups.
package feed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"phonewatch/app/internal/auth"
	"phonewatch/app/internal/ingest"
)

const (
	maxMessageSize = 256 * 1024
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
)

// ack is sent back after each batch so the pusher can track progress.
type ack struct {
	Applied  int `json:"applied"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Server terminates feed connections and drives batches through the
// ingest pipeline.
type Server struct {
	pipeline *ingest.Pipeline
	guard    *auth.Guard
	upgrader websocket.Upgrader
}

// NewServer creates a feed server.
func NewServer(pipeline *ingest.Pipeline, guard *auth.Guard) *Server {
	return &Server{
		pipeline: pipeline,
		guard:    guard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the connection and runs the read loop until the
// peer goes away.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.guard.Authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithField("error", err).Error("feed upgrade failed")
			return
		}
		go s.readLoop(conn, r.RemoteAddr)
	}
}

func (s *Server) readLoop(conn *websocket.Conn, remote string) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	logrus.WithField("remote", remote).Info("feed connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				logrus.WithFields(logrus.Fields{
					"remote": remote,
					"error":  err,
				}).Warn("feed closed unexpectedly")
			} else {
				logrus.WithField("remote", remote).Info("feed disconnected")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		result := s.processBatch(message, remote)

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(result); err != nil {
			logrus.WithFields(logrus.Fields{
				"remote": remote,
				"error":  err,
			}).Warn("feed ack write failed")
			return
		}
	}
}

// processBatch parses one message as a JSON array of observations and
// pushes each through the pipeline. A single endpoint's events inside
// a batch arrive in order; the pipeline serializes per endpoint, so
// batches never interleave incorrectly.
func (s *Server) processBatch(message []byte, remote string) ack {
	var batch []ingest.Observation
	if err := json.Unmarshal(message, &batch); err != nil {
		logrus.WithFields(logrus.Fields{
			"remote": remote,
			"error":  err,
		}).Warn("undecodable feed batch")
		return ack{Rejected: 1}
	}

	var out ack
	for _, obs := range batch {
		change, err := s.pipeline.Process(obs)
		switch {
		case err != nil:
			out.Rejected++
		case change != nil:
			out.Applied++
		default:
			out.Skipped++
		}
	}
	return out
}
