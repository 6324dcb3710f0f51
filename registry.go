package hostlink

import (
	"context"
	"fmt"
	"sync"

	"hostlink/transport"
)

// Registry manages multiple named Client connections, one per endpoint
// label (e.g. a radio's serial port or a saved replay file), with one
// connection designated active at a time.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	active  string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers a Client under label, connects it, and makes it active if
// no other session is currently active.
func (r *Registry) Add(ctx context.Context, label string, opts Options, t transport.Transport) (*Client, error) {
	c := NewClient(opts)
	if err := c.Connect(ctx, t); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[label] = c
	if r.active == "" {
		r.active = label
	}
	r.mu.Unlock()
	return c, nil
}

// Get returns the Client registered under label, or nil if none.
func (r *Registry) Get(label string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[label]
}

// Active returns the currently active Client, or nil if the registry is
// empty.
func (r *Registry) Active() *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil
	}
	return r.clients[r.active]
}

// SetActive switches the active session to label. Returns an error if no
// session is registered under that label.
func (r *Registry) SetActive(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[label]; !ok {
		return fmt.Errorf("hostlink: no session registered under %q", label)
	}
	r.active = label
	return nil
}

// Remove disconnects and unregisters label's session. If it was active,
// the active session becomes unset.
func (r *Registry) Remove(label string) error {
	r.mu.Lock()
	c, ok := r.clients[label]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.clients, label)
	if r.active == label {
		r.active = ""
	}
	r.mu.Unlock()
	return c.Disconnect()
}

// Labels returns every registered session label.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for k := range r.clients {
		out = append(out, k)
	}
	return out
}

// CloseAll disconnects every registered session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.active = ""
	r.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
}
