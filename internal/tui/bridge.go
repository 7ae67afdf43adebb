package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"portcaisse/internal/desk"
)

type refreshMsg struct{}

// Bridge forwards desk change notifications to a running program. Desk
// callbacks may fire inside Update, so OnChange never blocks: pending
// notifications collapse into one refresh and the model reads the latest
// snapshot itself.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// OnChange has the signature of desk.Deps.OnChange.
func (b *Bridge) OnChange(desk.Snapshot) {
	select {
	case b.pending <- struct{}{}:
	default:
	}
}

// Attach starts delivering refreshes to p until Stop is called.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-b.done:
				return
			case <-b.pending:
				b.mu.Lock()
				program := b.program
				b.mu.Unlock()
				if program != nil {
					program.Send(refreshMsg{})
				}
			}
		}
	}()
}

func (b *Bridge) Stop() {
	b.once.Do(func() { close(b.done) })
}
