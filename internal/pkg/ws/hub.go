package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
)

const writeWait = 10 * time.Second

// Hub 按 owner 维护进度推送连接
type Hub struct {
	owners map[int64]map[*Client]struct{}
	mu     sync.RWMutex
}

type Client struct {
	OwnerID int64
	Conn    *websocket.Conn
	mu      sync.Mutex
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		owners: make(map[int64]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.owners[client.OwnerID] == nil {
		h.owners[client.OwnerID] = make(map[*Client]struct{})
	}
	h.owners[client.OwnerID][client] = struct{}{}
	log.Printf("Owner %d subscribed to progress, conns: %d", client.OwnerID, len(h.owners[client.OwnerID]))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.owners[client.OwnerID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.owners, client.OwnerID)
	}
	client.Conn.Close()
	log.Printf("Owner %d unsubscribed from progress", client.OwnerID)
}

// Send 推送给 owner 的全部连接，写失败的连接会被移除
func (h *Hub) Send(ownerID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := h.owners[ownerID]
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, c := range clients {
		c.mu.Lock()
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			log.Printf("Progress push to owner %d failed: %v", ownerID, err)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.Unregister(c)
	}
	return nil
}

// Forward 把 worker 发布的进度转发给任务所属 owner 的连接
func (h *Hub) Forward(msg *pubsub.ProgressMessage) {
	if !h.IsOnline(msg.OwnerID) {
		return
	}
	if err := h.Send(msg.OwnerID, &Message{Type: msg.Type, Data: msg}); err != nil {
		log.Printf("Forward progress of job %d failed: %v", msg.JobID, err)
	}
}

// ReadLoop 阻塞读取直到连接断开，然后注销
func (h *Hub) ReadLoop(client *Client) {
	defer h.Unregister(client)
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) IsOnline(ownerID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.owners {
		total += len(conns)
	}
	return total
}
