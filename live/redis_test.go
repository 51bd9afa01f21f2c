package live_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/ory/dockertest/v3"

	"github.com/opencount/senate-stv/count"
	"github.com/opencount/senate-stv/live"
	"github.com/opencount/senate-stv/rational"
)

func startRedis(t *testing.T) (string, func()) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %s", err)
	}

	resource, err := pool.Run("redis", "7", nil)
	if err != nil {
		t.Fatalf("could not start redis container: %s", err)
	}

	return resource.GetPort("6379/tcp"), func() {
		if err := pool.Purge(resource); err != nil {
			t.Fatalf("could not purge redis container: %s", err)
		}
	}
}

func TestPublisherBroadcastsRound(t *testing.T) {
	if testing.Short() {
		t.Skip("skip redis test")
	}

	port, closeFn := startRedis(t)
	defer closeFn()

	addr := fmt.Sprintf("localhost:%s", port)

	pub := live.NewPublisher(addr, "senate-stv:rounds")
	defer pub.Close()
	pub.Wait(t.Logf)

	sub, err := redis.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing subscriber conn: %v", err)
	}
	defer sub.Close()

	psc := redis.PubSubConn{Conn: sub}
	if err := psc.Subscribe("senate-stv:rounds"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	received := make(chan []byte, 1)
	go func() {
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				received <- v.Data
				return
			case error:
				return
			}
		}
	}()

	// Give the subscription time to register before publishing.
	time.Sleep(200 * time.Millisecond)

	rec := count.RoundRecord{
		Number: 1,
		Note:   []string{"first preferences distributed"},
		TalliesAfter: map[int]rational.Rational{
			1: rational.FromInt(70),
		},
	}
	if err := pub.Publish(rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-received:
		var got count.RoundRecord
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.Number != 1 {
			t.Errorf("Number = %d, want 1", got.Number)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published round")
	}
}
