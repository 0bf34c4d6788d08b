package iotmqtt

import "sync"

// pendingAck is a single outstanding QoS 1 PUBLISH, SUBSCRIBE, or
// UNSUBSCRIBE waiting for its correlated ack packet. result carries the
// decoded ack (*subAckPacket, *unsubAckPacket, or nil for PUBACK) once the
// session resolves it.
type pendingAck struct {
	onComplete func(result interface{}, err error)
}

// ackRegistry correlates QoS 1 acks to their originating request by
// 16-bit packet identifier, grounded on the teacher's ongoingRequests
// (client.go) but storing a completion callback instead of a result
// channel, since acks resolve on the event loop and must hand off to the
// dispatcher rather than block a waiting goroutine.
type ackRegistry struct {
	mu      sync.Mutex
	pending map[uint16]*pendingAck
}

func newAckRegistry() *ackRegistry {
	return &ackRegistry{pending: make(map[uint16]*pendingAck)}
}

// add registers a pending ack for packetID. Returns ErrProtocol if the
// identifier is already in use, mirroring the teacher's ongoingRequests.add.
func (r *ackRegistry) add(packetID uint16, onComplete func(result interface{}, err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[packetID]; exists {
		return ErrProtocol
	}
	r.pending[packetID] = &pendingAck{onComplete: onComplete}
	return nil
}

// complete resolves the pending ack for packetID, if any, and removes it.
// Returns false if no such packet identifier was outstanding (an ack for
// an unknown request); the lifecycle controller ignores such acks.
func (r *ackRegistry) complete(packetID uint16, result interface{}, err error) bool {
	r.mu.Lock()
	p, ok := r.pending[packetID]
	if ok {
		delete(r.pending, packetID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.onComplete(result, err)
	return true
}

// failAll resolves every outstanding pending ack with err, used when the
// connection drops or Disconnect is issued while requests are in flight.
func (r *ackRegistry) failAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint16]*pendingAck)
	r.mu.Unlock()
	for _, p := range pending {
		p.onComplete(nil, err)
	}
}

func (r *ackRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
