package collaboration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// y-websocket frame types
const (
	MessageSync      byte = 0
	MessageAwareness byte = 1
)

const maxStoredUpdates = 1000

var ErrInvalidFrame = errors.New("invalid replication frame")

// Relay forwards opaque binary replication frames between the peers of a
// document without interpreting them. Sync frames are also kept so a late
// joiner can catch up before it sees live traffic.
type Relay struct {
	mu    sync.Mutex
	docs  map[string]*document
	grace time.Duration

	log *logrus.Entry
}

type document struct {
	name string

	mu      sync.Mutex
	peers   map[string]*Client
	updates [][]byte

	timer   *time.Timer
	gen     uint64
	removed bool
}

func NewRelay(grace time.Duration) *Relay {
	return &Relay{
		docs:  make(map[string]*document),
		grace: grace,
		log:   logrus.WithField("component", "relay"),
	}
}

// lockDoc returns the named document locked, creating it if needed.
func (r *Relay) lockDoc(name string, create bool) *document {
	for {
		r.mu.Lock()
		doc, ok := r.docs[name]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			doc = &document{name: name, peers: make(map[string]*Client)}
			r.docs[name] = doc
		}
		r.mu.Unlock()

		doc.mu.Lock()
		if !doc.removed {
			return doc
		}
		// dropped between the map lookup and the lock
		doc.mu.Unlock()
	}
}

// Join adds c to a document and replays the stored sync frames to it.
func (r *Relay) Join(name string, c *Client) {
	doc := r.lockDoc(name, true)
	defer doc.mu.Unlock()

	if doc.timer != nil {
		doc.timer.Stop()
		doc.timer = nil
	}
	doc.gen++

	for _, update := range doc.updates {
		c.SendBinary(update)
	}
	doc.peers[c.ID] = c

	r.log.WithFields(logrus.Fields{
		"document":      name,
		"connection_id": c.ID,
		"peers":         len(doc.peers),
		"replayed":      len(doc.updates),
	}).Info("Peer joined document")
}

// Receive validates a frame from c and forwards it to the other peers of the document.
func (r *Relay) Receive(name string, c *Client, data []byte) error {
	if err := validateFrame(data); err != nil {
		return err
	}

	doc := r.lockDoc(name, false)
	if doc == nil {
		return fmt.Errorf("document %q is not open", name)
	}
	defer doc.mu.Unlock()

	if data[0] == MessageSync {
		stored := make([]byte, len(data))
		copy(stored, data)
		doc.updates = append(doc.updates, stored)
		if len(doc.updates) > maxStoredUpdates {
			doc.updates = append([][]byte(nil), doc.updates[len(doc.updates)-maxStoredUpdates:]...)
		}
	}

	for id, peer := range doc.peers {
		if id == c.ID {
			continue
		}
		peer.SendBinary(data)
	}
	return nil
}

// Leave removes c from a document. A document left without peers is dropped
// after the grace period unless someone joins first.
func (r *Relay) Leave(name string, c *Client) {
	doc := r.lockDoc(name, false)
	if doc == nil {
		return
	}
	defer doc.mu.Unlock()

	delete(doc.peers, c.ID)
	if len(doc.peers) > 0 {
		return
	}

	doc.gen++
	gen := doc.gen
	doc.timer = time.AfterFunc(r.grace, func() { r.drop(doc, gen) })
}

func (r *Relay) drop(doc *document, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.mu.Lock()
	defer doc.mu.Unlock()

	if doc.gen != gen || len(doc.peers) > 0 || doc.removed {
		return
	}
	doc.removed = true
	delete(r.docs, doc.name)

	r.log.WithField("document", doc.name).Info("Dropped idle document")
}

// Documents returns the number of open documents.
func (r *Relay) Documents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// Close stops pending drops.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		doc.mu.Lock()
		if doc.timer != nil {
			doc.timer.Stop()
		}
		doc.mu.Unlock()
	}
}

func validateFrame(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidFrame)
	}

	switch data[0] {
	case MessageSync:
		if len(data) < 2 {
			return fmt.Errorf("%w: sync message too short", ErrInvalidFrame)
		}
		if data[1] > 2 {
			return fmt.Errorf("%w: invalid sync type %d", ErrInvalidFrame, data[1])
		}
		return nil
	case MessageAwareness:
		if len(data) < 2 {
			return fmt.Errorf("%w: awareness message too short", ErrInvalidFrame)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown message type %d", ErrInvalidFrame, data[0])
	}
}
