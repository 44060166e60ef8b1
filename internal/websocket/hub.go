package websocket

import (
	"encoding/json"
	"sync"
)

// SyncUpdate is pushed to a user's connected clients as their accounts
// move through a sync run.
type SyncUpdate struct {
	AccountID          string `json:"account_id"`
	Platform           string `json:"platform"`
	Status             string `json:"status"`
	TransactionsSynced int    `json:"transactions_synced"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// BroadcastSyncUpdate drops the update for clients whose send buffer is
// full; progress events are advisory, never load-bearing.
func (h *Hub) BroadcastSyncUpdate(userID string, update SyncUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
