// Package registry tracks live connections and the topics each one is
// subscribed to.
package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// Member is one live subscriber of a topic at snapshot time.
type Member struct {
	ConnectionID string
	// UserID is empty until the connection has been bound to its owner.
	UserID string
}

type connection struct {
	userID    string
	createdAt time.Time
	lastSeen  time.Time
	topics    map[realtime.Topic]struct{}
}

// Registry is the in-memory connection registry. A single RWMutex guards
// both the connection table and the topic membership index, so a snapshot
// never observes a half-applied subscribe or unsubscribe. The lock is held
// only while copying or mutating the maps.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connection
	members     map[realtime.Topic]map[string]struct{}
	now         func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		connections: make(map[string]*connection),
		members:     make(map[realtime.Topic]map[string]struct{}),
		now:         time.Now,
	}
}

// Register adds a connection with no topics other than the broadcast topic.
// Registering an existing id is a no-op.
func (r *Registry) Register(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; ok {
		return
	}
	now := r.now()
	r.connections[connectionID] = &connection{
		createdAt: now,
		lastSeen:  now,
		topics:    make(map[realtime.Topic]struct{}),
	}
	r.subscribeLocked(connectionID, realtime.TopicBroadcast)
}

// Unregister removes the connection and all of its memberships. Unknown ids
// are ignored.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}
	for topic := range conn.topics {
		r.removeMemberLocked(topic, connectionID)
	}
	delete(r.connections, connectionID)
}

// Bind records the user that owns the connection.
func (r *Registry) Bind(connectionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[connectionID]; ok {
		conn.userID = userID
	}
}

// Subscribe adds the connection to a topic. Unknown ids are ignored because
// the connection may have just disconnected.
func (r *Registry) Subscribe(connectionID string, topic realtime.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribeLocked(connectionID, topic)
}

// Unsubscribe removes the connection from a topic.
func (r *Registry) Unsubscribe(connectionID string, topic realtime.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}
	delete(conn.topics, topic)
	r.removeMemberLocked(topic, connectionID)
}

// MembersOf returns a copy of the connection ids subscribed to topic, sorted.
// Subscribers added after the call are not included.
func (r *Registry) MembersOf(topic realtime.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.members[topic]))
	for id := range r.members[topic] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns the members of topic together with their owning users,
// sorted by connection id.
func (r *Registry) Snapshot(topic realtime.Topic) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.members[topic]))
	for id := range r.members[topic] {
		members = append(members, Member{ConnectionID: id, UserID: r.connections[id].userID})
	}
	slices.SortFunc(members, func(a, b Member) int {
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
	return members
}

// Topics returns the topics the connection is subscribed to, sorted.
func (r *Registry) Topics(connectionID string) []realtime.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	return sortedTopics(conn.topics)
}

// Info returns a copy of the connection's state.
func (r *Registry) Info(connectionID string) (realtime.ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return realtime.ConnectionInfo{}, false
	}
	return realtime.ConnectionInfo{
		ID:        connectionID,
		UserID:    conn.userID,
		CreatedAt: conn.createdAt,
		LastSeen:  conn.lastSeen,
		Topics:    sortedTopics(conn.topics),
	}, true
}

// Touch marks the connection as active now.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[connectionID]; ok {
		conn.lastSeen = r.now()
	}
}

// ExpireIdle unregisters every connection that has not been touched within
// maxIdle and returns their ids so the transport can close them.
func (r *Registry) ExpireIdle(maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	var expired []string
	for id, conn := range r.connections {
		if conn.lastSeen.Before(cutoff) {
			for topic := range conn.topics {
				r.removeMemberLocked(topic, id)
			}
			delete(r.connections, id)
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	return expired
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) subscribeLocked(connectionID string, topic realtime.Topic) {
	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}
	conn.topics[topic] = struct{}{}
	set, ok := r.members[topic]
	if !ok {
		set = make(map[string]struct{})
		r.members[topic] = set
	}
	set[connectionID] = struct{}{}
}

func (r *Registry) removeMemberLocked(topic realtime.Topic, connectionID string) {
	set, ok := r.members[topic]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.members, topic)
	}
}

func sortedTopics(set map[realtime.Topic]struct{}) []realtime.Topic {
	topics := make([]realtime.Topic, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}
