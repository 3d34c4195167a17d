package relay

import (
	"slices"
	"sync"

	"github.com/g960059/osrelay/internal/model"
)

// Conn is a live transport to an instance or a browser. Send must not block
// indefinitely; a returned error means the peer is gone.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close(code int, reason string) error
}

type Subscription struct {
	InstanceID string
	Conn       Conn
	Role       model.Role
	UserID     string
}

type subscriber struct {
	role   model.Role
	userID string
}

// Registry tracks live connections by instance id. It performs no I/O.
type Registry struct {
	mu        sync.Mutex
	instances map[string]Conn
	browsers  map[string]map[Conn]subscriber
}

func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]Conn),
		browsers:  make(map[string]map[Conn]subscriber),
	}
}

// RegisterInstance makes conn the sole connection for instanceID and
// returns the connection it replaced, if any. Closing the replaced
// connection is the caller's job.
func (r *Registry) RegisterInstance(instanceID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.instances[instanceID]
	r.instances[instanceID] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// UnregisterInstance removes the mapping only while it still points at conn,
// so a superseded session cannot remove its successor.
func (r *Registry) UnregisterInstance(instanceID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.instances[instanceID]
	if !ok || current != conn {
		return false
	}
	delete(r.instances, instanceID)
	return true
}

func (r *Registry) Instance(instanceID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.instances[instanceID]
	return conn, ok
}

func (r *Registry) RegisterBrowser(instanceID string, conn Conn, role model.Role, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.browsers[instanceID]
	if !ok {
		subs = make(map[Conn]subscriber)
		r.browsers[instanceID] = subs
	}
	subs[conn] = subscriber{role: role, userID: userID}
}

// UnregisterBrowser removes the subscription and drops the instance's set
// once it is empty.
func (r *Registry) UnregisterBrowser(instanceID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterBrowserLocked(instanceID, conn)
}

func (r *Registry) unregisterBrowserLocked(instanceID string, conn Conn) bool {
	subs, ok := r.browsers[instanceID]
	if !ok {
		return false
	}
	if _, ok := subs[conn]; !ok {
		return false
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(r.browsers, instanceID)
	}
	return true
}

// Subscribers returns a point-in-time copy of the subscriptions for
// instanceID, skipping any whose role is listed in excludeRoles.
func (r *Registry) Subscribers(instanceID string, excludeRoles ...model.Role) []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.browsers[instanceID]
	out := make([]Subscription, 0, len(subs))
	for conn, sub := range subs {
		if slices.Contains(excludeRoles, sub.role) {
			continue
		}
		out = append(out, Subscription{InstanceID: instanceID, Conn: conn, Role: sub.role, UserID: sub.userID})
	}
	return out
}

func (r *Registry) SubscriberCount(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.browsers[instanceID])
}

func (r *Registry) InstanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *Registry) BrowserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, subs := range r.browsers {
		total += len(subs)
	}
	return total
}

// EvictUser removes every subscription held by userID on the listed
// instances and returns what it removed.
func (r *Registry) EvictUser(userID string, instanceIDs []string) []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Subscription
	for _, instanceID := range instanceIDs {
		for conn, sub := range r.browsers[instanceID] {
			if sub.userID != userID {
				continue
			}
			removed = append(removed, Subscription{InstanceID: instanceID, Conn: conn, Role: sub.role, UserID: sub.userID})
		}
	}
	for _, sub := range removed {
		r.unregisterBrowserLocked(sub.InstanceID, sub.Conn)
	}
	return removed
}
