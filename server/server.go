// Package server exposes the job API over HTTP: submit a run, poll its
// status, fetch its results, and follow job updates over a WebSocket
// stream. The server owns the worker pool and the schedule ticker; the
// pipeline itself never imports this package.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/pulse/budget"
	"github.com/veritas-nexus/veritas/pulse/schedule"
	"github.com/veritas-nexus/veritas/runstore"
)

// ServerState tracks the server's lifecycle phase.
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

const (
	// MaxClients caps concurrent WebSocket connections
	MaxClients = 64

	// ShutdownTimeout bounds how long Stop waits for goroutines
	ShutdownTimeout = 10 * time.Second

	// broadcastQueueSize buffers fan-out requests between the queue
	// subscription and the broadcast worker
	broadcastQueueSize = 256
)

// Server is the job API process: HTTP surface, WebSocket fan-out, and the
// background services (worker pool, schedule ticker, config watcher) that
// drive the pipeline.
type Server struct {
	db  *sql.DB
	cfg *config.Config

	runs          *runstore.Store
	daemon        *async.WorkerPool
	ticker        *schedule.Ticker
	budgetTracker *budget.Tracker
	rateLimiter   *budget.Limiter
	watches       *schedule.Store
	executions    *schedule.ExecutionStore
	configWatcher *config.ConfigWatcher

	clients      map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	broadcastReq chan *broadcastRequest
	mu           sync.RWMutex

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32

	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// Queue returns the job queue the server enqueues into.
func (s *Server) Queue() *async.Queue {
	return s.daemon.GetQueue()
}

// Runs returns the per-job artifact store.
func (s *Server) Runs() *runstore.Store {
	return s.runs
}

// handleClientRegister admits a new WebSocket client.
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// handleClientUnregister drops a disconnected client.
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		totalClients := len(s.clients)
		s.mu.Unlock()

		// Signal broadcast worker to close channels (single-writer invariant:
		// only the broadcast worker closes client send channels)
		req := &broadcastRequest{reqType: "close", client: client}
		select {
		case s.broadcastReq <- req:
		case <-s.ctx.Done():
			client.close()
		}

		s.logger.Infow("Client disconnected",
			"client_id", client.id,
			"total_clients", totalClients,
		)
	} else {
		s.mu.Unlock()
	}
}

// removeSlowClient evicts a client whose send buffer stayed full.
// Only called from the broadcast worker, so closing directly is safe.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		return
	}

	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// Run starts the server hub event loop. The broadcast worker must start
// before any message is processed because it owns all client channel sends.
func (s *Server) Run() {
	go s.runBroadcastWorker()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}
