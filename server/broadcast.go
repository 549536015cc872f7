package server

import (
	"encoding/json"
	"time"

	"github.com/veritas-nexus/veritas/pulse/async"
)

// JobUpdateMessage is one WebSocket frame: a job snapshot pushed on every
// queue mutation (enqueue, stage advance, pause, completion).
type JobUpdateMessage struct {
	Type      string     `json:"type"` // always "job_update"
	Job       *async.Job `json:"job"`
	Timestamp int64      `json:"timestamp"`
}

// broadcastRequest is the unit of work for the broadcast worker, which is
// the only goroutine allowed to send on or close client channels.
type broadcastRequest struct {
	reqType string // "job" or "close"
	payload []byte
	client  *Client // close target
}

// runBroadcastWorker owns all client channel sends. Serializing them in one
// goroutine keeps the send/close race out of every other code path.
func (s *Server) runBroadcastWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.broadcastReq:
			switch req.reqType {
			case "job":
				s.fanOut(req.payload)
			case "close":
				req.client.close()
			}
		}
	}
}

// fanOut delivers one frame to every connected client. A client whose send
// buffer is full is evicted rather than allowed to stall the others.
func (s *Server) fanOut(payload []byte) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- payload:
		default:
			s.broadcastDrops.Add(1)
			s.removeSlowClient(client)
		}
	}
}

// startJobUpdateBroadcaster bridges the queue's subscriber channel into the
// broadcast worker for the server's lifetime.
func (s *Server) startJobUpdateBroadcaster() {
	jobChan := s.Queue().Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe first (removes from list), then close.
			// Order matters: closing while still subscribed could panic on send.
			s.Queue().Unsubscribe(jobChan)
			close(jobChan)
		}()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Job update broadcaster stopping due to context cancellation")
				return
			case job := <-jobChan:
				s.broadcastJobUpdate(job)
			}
		}
	}()

	s.logger.Infow("Job update broadcaster started")
}

// broadcastJobUpdate serializes a job snapshot and hands it to the
// broadcast worker. A full request queue drops the frame; the job row in
// the store stays authoritative either way.
func (s *Server) broadcastJobUpdate(job *async.Job) {
	msg := JobUpdateMessage{
		Type:      "job_update",
		Job:       job,
		Timestamp: time.Now().Unix(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warnw("Failed to marshal job update", "job_id", job.ID, "error", err)
		return
	}

	select {
	case s.broadcastReq <- &broadcastRequest{reqType: "job", payload: payload}:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast request queue full, dropping job update",
			"job_id", shortID(job.ID),
		)
	}

	s.logger.Debugw("Broadcasted job update",
		"job_id", shortID(job.ID),
		"status", job.Status,
		"stage", job.Stage,
		"progress", job.Progress,
	)
}
