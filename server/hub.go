package server

import (
	"time"

	"github.com/teranos/nexus/server/wslogs"
	"github.com/teranos/nexus/version"
)

// Run is the hub event loop. It owns the client set and is the only
// goroutine that sends on or closes a client's send channel.
func (s *Server) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case event := <-s.broadcast:
			s.handleBroadcast(event)
		}
	}
}

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
	total := len(s.clients)
	s.mu.Unlock()

	s.logTransport.RegisterClient(client.id, client.sendLog)

	// Fresh channel, cannot be full
	client.send <- VersionEvent{Type: EventVersion, Version: version.Get()}

	s.logTransport.SendBatch(&wslogs.Batch{
		Messages: []wslogs.Message{{
			Level:     "info",
			Timestamp: time.Now(),
			Logger:    "server",
			Message:   "WebSocket connection established",
			Fields:    map[string]interface{}{"client_id": client.id},
		}},
		RunID:     "connection",
		Timestamp: time.Now(),
	})

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", total,
	)
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	// Stop log delivery before the channel closes
	s.logTransport.UnregisterClient(client.id)
	client.close()

	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"total_clients", total,
	)
}

// removeSlowClient drops a client whose send queue is full
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()

	s.logTransport.UnregisterClient(client.id)
	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

func (s *Server) handleBroadcast(event any) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- event:
		default:
			s.broadcastDrops.Add(1)
			s.removeSlowClient(c)
		}
	}
}
