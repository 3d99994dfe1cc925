package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// Client é uma conexão WebSocket com buffer de saída próprio
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once

	mu     sync.Mutex
	rooms  map[Room]struct{}
	wagers map[Room]map[string][]records.Wager // roundId -> apostas feitas por esta conexão
}

func newClient(id, userID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		rooms:  make(map[Room]struct{}),
		wagers: make(map[Room]map[string][]records.Wager),
	}
}

func (c *Client) trackWager(room Room, w records.Wager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRound, ok := c.wagers[room]
	if !ok {
		byRound = make(map[string][]records.Wager)
		c.wagers[room] = byRound
	}
	byRound[w.RoundID] = append(byRound[w.RoundID], w)
}

func (c *Client) inRoom(room Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Hub gerencia conexões e salas; implementa Registry para o Dispatch
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[Room]map[string]*Client

	// OnRoomActive e OnRoomEmpty rodam com h.mu travado, então ativar e
	// esvaziar a mesma sala nunca se intercalam. Não podem chamar o Hub.
	OnDropped    func()     // consumidor lento desconectado
	OnRoomActive func(Room) // primeira conexão entrou na sala
	OnRoomEmpty  func(Room) // última conexão saiu da sala
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[Room]map[string]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

// Unregister remove a conexão de tudo; devolve as salas que ficaram vazias
func (h *Hub) Unregister(c *Client) []Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	emptied, _ := h.removeLocked(c)
	h.emptiedLocked(emptied...)
	return emptied
}

func (h *Hub) removeLocked(c *Client) ([]Room, bool) {
	if _, ok := h.clients[c.ID]; !ok {
		return nil, false
	}
	delete(h.clients, c.ID)
	var emptied []Room
	c.mu.Lock()
	for room := range c.rooms {
		if h.leaveLocked(c, room) {
			emptied = append(emptied, room)
		}
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.send) })
	return emptied, true
}

// Join inscreve a conexão na sala; first indica que a sala acabou de ficar ativa
func (h *Hub) Join(c *Client, room Room) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	first = len(members) == 1
	if first && h.OnRoomActive != nil {
		h.OnRoomActive(room)
	}
	return first
}

// Leave remove a conexão da sala; empty indica que a sala ficou sem ninguém
func (h *Hub) Leave(c *Client, room Room) (empty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.mu.Lock()
	empty = h.leaveLocked(c, room)
	c.mu.Unlock()
	if empty {
		h.emptiedLocked(room)
	}
	return empty
}

// ReleaseIfEmpty dispara OnRoomEmpty se a sala não tem ninguém, na mesma
// seção crítica que a checagem
func (h *Hub) ReleaseIfEmpty(room Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.rooms[room]) > 0 {
		return false
	}
	h.emptiedLocked(room)
	return true
}

// leaveLocked exige h.mu e c.mu travados
func (h *Hub) leaveLocked(c *Client, room Room) bool {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[c.ID]; !in {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
		return true
	}
	return false
}

// Members lista os ids das conexões na sala
func (h *Hub) Members(room Room) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// WagersFor devolve, por conexão, as apostas feitas nesta rodada (mesmo quem já saiu da sala)
func (h *Hub) WagersFor(room Room, roundID string) map[string][]records.Wager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]records.Wager)
	for id, c := range h.clients {
		c.mu.Lock()
		if ws := c.wagers[room][roundID]; len(ws) > 0 {
			out[id] = append([]records.Wager(nil), ws...)
		}
		c.mu.Unlock()
	}
	return out
}

// ForgetRound descarta a contabilidade local de uma rodada já liquidada
func (h *Hub) ForgetRound(room Room, roundID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.mu.Lock()
		if byRound, ok := c.wagers[room]; ok {
			delete(byRound, roundID)
			if len(byRound) == 0 {
				delete(c.wagers, room)
			}
		}
		c.mu.Unlock()
	}
}

// Send entrega msg a uma conexão; false se ela não existe mais ou foi derrubada
func (h *Hub) Send(clientID string, msg ServerMsg) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	h.mu.RLock()
	c, ok := h.clients[clientID]
	delivered := ok && trySend(c, b)
	h.mu.RUnlock()
	if ok && !delivered {
		h.drop(c)
	}
	return delivered
}

// Broadcast envia msg para todos na sala; devolve quantos receberam
func (h *Hub) Broadcast(room Room, msg ServerMsg) int {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	var slow []*Client
	n := 0
	h.mu.RLock()
	for _, c := range h.rooms[room] {
		if trySend(c, b) {
			n++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.drop(c)
	}
	return n
}

// UserOf devolve o usuário dono da conexão
func (h *Hub) UserOf(clientID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return "", false
	}
	return c.UserID, true
}

// Len é o número de conexões registradas
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveRooms lista as salas com pelo menos uma conexão
func (h *Hub) ActiveRooms() []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Room, 0, len(h.rooms))
	for r := range h.rooms {
		out = append(out, r)
	}
	return out
}

// drop derruba um consumidor lento; o writePump encerra a conexão
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	emptied, removed := h.removeLocked(c)
	if removed {
		h.emptiedLocked(emptied...)
	}
	h.mu.Unlock()
	if removed && h.OnDropped != nil {
		h.OnDropped()
	}
}

func (h *Hub) emptiedLocked(rooms ...Room) {
	if h.OnRoomEmpty == nil {
		return
	}
	for _, r := range rooms {
		h.OnRoomEmpty(r)
	}
}

// trySend nunca bloqueia; chamado com h.mu travado (leitura) para não cruzar com close
func trySend(c *Client, b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}
