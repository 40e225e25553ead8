// Package shutdown stops registered components in reverse order when the
// process receives SIGINT or SIGTERM.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"image-diff/internal/logger"
)

const component = "ShutdownManager"

type Shutdownable interface {
	Shutdown()
}

// Func adapts a plain function to Shutdownable.
type Func func()

func (f Func) Shutdown() { f() }

type entry struct {
	name string
	c    Shutdownable
}

type Manager struct {
	mu         sync.Mutex
	components []entry
	logger     logger.Logger
	timeout    time.Duration
	once       sync.Once
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager allows each component up to timeout to stop.
func NewManager(log logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:  log,
		timeout: timeout,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) Register(name string, c Shutdownable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, entry{name: name, c: c})
}

// Listen starts shutdown on the first interrupt or termination signal.
func (m *Manager) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Info(component, "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			m.Shutdown()
		case <-m.done:
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown cancels Context and stops components last-registered first. Only
// the first call does anything; later calls wait for it to finish.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		defer close(m.done)

		m.mu.Lock()
		components := append([]entry(nil), m.components...)
		m.mu.Unlock()

		m.logger.Info(component, "shutdown sequence initiated", map[string]interface{}{
			"components": len(components),
		})
		m.cancel()

		for i := len(components) - 1; i >= 0; i-- {
			e := components[i]
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				e.c.Shutdown()
			}()

			select {
			case <-stopped:
				m.logger.Debug(component, "component stopped", map[string]interface{}{"component": e.name})
			case <-time.After(m.timeout):
				m.logger.Warning(component, "component shutdown timeout", map[string]interface{}{
					"component": e.name,
					"timeout":   m.timeout.String(),
				})
			}
		}

		m.logger.Info(component, "shutdown sequence completed", nil)
	})
	<-m.done
}

// Context is cancelled when shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Done is closed once every component has stopped or timed out.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
