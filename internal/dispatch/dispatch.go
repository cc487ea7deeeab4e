// Package dispatch раздаёт входящие события пулу воркеров с сохранением
// порядка внутри одного чата: события с одинаковым ключом попадают в один
// и тот же воркер и обрабатываются в порядке поступления, разные ключи — параллельно.
package dispatch

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/maryam-mebel/support-bot/internal/telegram"
)

type Handler func(ctx context.Context, ev telegram.Event)

type Pool struct {
	queues  []chan telegram.Event
	handler Handler
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool создаёт пул из workers очередей глубиной buffer.
func NewPool(workers, buffer int, handler Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	p := &Pool{handler: handler}
	for i := 0; i < workers; i++ {
		p.queues = append(p.queues, make(chan telegram.Event, buffer))
	}
	return p
}

// Start запускает воркеры; они живут до Close.
func (p *Pool) Start(ctx context.Context) {
	for _, q := range p.queues {
		q := q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ev := range q {
				p.handler(ctx, ev)
			}
		}()
	}
}

// Submit кладёт событие в очередь его ключа. Блокируется при заполненной
// очереди — естественный backpressure на webhook/поллер, но только для этого
// ключа: RLock пускает отправителей в разные очереди параллельно.
func (p *Pool) Submit(ev telegram.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.queues[p.keyIndex(ev.ChatKey())] <- ev
	return true
}

// Close закрывает очереди и дожидается, пока воркеры дообработают хвост.
// Write-lock дожидается активных Submit, так что close не попадёт под запись.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) keyIndex(key int64) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(key, 10)))
	return int(h.Sum32() % uint32(len(p.queues)))
}
