// Package live broadcasts finished rounds over Redis pub/sub, for a
// dashboard or observer process watching a count in progress (spec.md
// §6 "live broadcaster"). It is optional and has no effect on the
// count itself: Engine.Step never calls into this package directly:
// a caller publishes a copy of each RoundRecord after Step returns
// (spec.md §5), so a slow or unavailable subscriber can never stall a
// round in flight.
package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/opencount/senate-stv/count"
)

// Publisher broadcasts RoundRecords to a Redis channel, in the
// teacher's fast/ephemeral-backend idiom (internal/vote/run.go's
// VOTE_BACKEND_FAST=redis split) repurposed here for live count
// progress instead of vote storage.
type Publisher struct {
	pool    *redis.Pool
	channel string
}

// NewPublisher builds a connection pool to a Redis server at addr and
// returns a Publisher that broadcasts to channel.
func NewPublisher(addr string, channel string) *Publisher {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
	return &Publisher{pool: pool, channel: channel}
}

// Wait blocks until a connection to Redis can be established.
func (p *Publisher) Wait(log func(format string, a ...interface{})) {
	for {
		conn := p.pool.Get()
		_, err := conn.Do("PING")
		conn.Close()
		if err == nil {
			return
		}
		if log != nil {
			log("waiting for redis: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Publish broadcasts one finished round. Subscribers with nobody
// listening simply receive nothing; PUBLISH never blocks on a
// consumer.
func (p *Publisher) Publish(rec count.RoundRecord) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("live: encoding round %d: %w", rec.Number, err)
	}

	conn := p.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", p.channel, bs); err != nil {
		return fmt.Errorf("live: publishing round %d: %w", rec.Number, err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Publisher) Close() error {
	return p.pool.Close()
}
