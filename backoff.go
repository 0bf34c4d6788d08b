package iotmqtt

import (
	"sync"
	"time"
)

// reconnectController implements the exponential-backoff reconnect policy
// named by ClientConfig's Base/Maximum/MinimumConnectionTime fields,
// grounded on the shape of the teacher pack's gojek-paho backoffController
// (sleepWithBackoff escalates a per-reason attempt counter up to a capped
// interval; a connection that stays up past a threshold is treated as
// healthy again). That controller keys backoff by a string reason; this
// one only ever backs off the reconnect loop, so a single attempt counter
// suffices.
type reconnectController struct {
	mu sync.Mutex

	base    time.Duration
	max     time.Duration
	minConn time.Duration

	attempt      int
	connectedAt  time.Time
	hasConnected bool
}

func newReconnectController(cfg ClientConfig) *reconnectController {
	return &reconnectController{
		base:    cfg.BaseReconnectTime,
		max:     cfg.MaximumReconnectTime,
		minConn: cfg.MinimumConnectionTime,
	}
}

// noteConnected records that a connection just succeeded. If a previous
// connection is still recorded as live and has been up at least minConn,
// the attempt counter resets; nextDelay applies the same check when a
// live connection drops, so a long-lived session that eventually drops
// starts backing off from the base interval again instead of continuing
// to escalate.
func (c *reconnectController) noteConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasConnected && time.Since(c.connectedAt) >= c.minConn {
		c.attempt = 0
	}
	c.connectedAt = time.Now()
	c.hasConnected = true
}

// nextDelay returns the delay to wait before the next reconnect attempt
// and advances the internal attempt counter. If a live connection had
// been up at least minConn, the counter resets first, and the connection
// is no longer counted as live. Delay doubles per attempt starting from
// base, capped at max, so the first failure after a reset waits exactly
// base and the sequence runs base, 2*base, 4*base, ...
func (c *reconnectController) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasConnected && time.Since(c.connectedAt) >= c.minConn {
		c.attempt = 0
	}
	c.hasConnected = false

	delay := c.base
	for i := 0; i < c.attempt && delay < c.max; i++ {
		delay *= 2
	}
	if delay > c.max {
		delay = c.max
	}
	c.attempt++
	return delay
}

// reset clears the attempt counter, used when the user issues a fresh
// Connect after a full Disconnect.
func (c *reconnectController) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	c.hasConnected = false
}
