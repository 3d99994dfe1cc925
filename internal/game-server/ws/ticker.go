package ws

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tickers mantém um ticker por sala ativa
type Tickers struct {
	clock clockwork.Clock
	every time.Duration
	tick  func(Room)

	mu      sync.Mutex
	running map[Room]chan struct{}
	wg      sync.WaitGroup
}

func NewTickers(clock clockwork.Clock, every time.Duration, tick func(Room)) *Tickers {
	return &Tickers{
		clock:   clock,
		every:   every,
		tick:    tick,
		running: make(map[Room]chan struct{}),
	}
}

// Start liga o ticker da sala; false se já estava ligado
func (t *Tickers) Start(room Room) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[room]; ok {
		return false
	}
	stop := make(chan struct{})
	t.running[room] = stop
	t.wg.Add(1)
	go t.loop(room, stop)
	return true
}

// Stop desliga o ticker da sala; pode ser chamado de dentro do próprio tick
func (t *Tickers) Stop(room Room) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	stop, ok := t.running[room]
	if !ok {
		return false
	}
	delete(t.running, room)
	close(stop)
	return true
}

// StopAll desliga tudo e espera as goroutines
func (t *Tickers) StopAll() {
	t.mu.Lock()
	for room, stop := range t.running {
		close(stop)
		delete(t.running, room)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Active é o número de salas com ticker ligado
func (t *Tickers) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

func (t *Tickers) loop(room Room, stop chan struct{}) {
	defer t.wg.Done()
	tk := t.clock.NewTicker(t.every)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.Chan():
			t.tick(room)
		}
	}
}
