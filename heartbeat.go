/*
 * Copyright 2024 CometDB, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cometdb

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// maxHeartbeatFailures is the number of consecutive failed ticks after which
// the loop gives up. The server-side session is considered lost at that
// point; the next query on the connection reports the real error.
const maxHeartbeatFailures = 3

const heartbeatTimeout = 10 * time.Second

// heartbeat keeps one connection's server-side session alive. Each tick
// refreshes the session TTL and the liveness of result handles that still
// have pages pending on the node.
type heartbeat struct {
	conn     *Connection
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
}

func startHeartbeat(conn *Connection) *heartbeat {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{
		conn:     conn,
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: conn.client.config.HeartbeatInterval,
	}
	go hb.run(ctx)
	return hb
}

// stop terminates the loop. It does not interrupt a tick already in flight;
// it blocks until that tick finished, so no heartbeat request can race the
// logout that follows.
func (hb *heartbeat) stop() {
	hb.cancel()
	<-hb.done
}

func (hb *heartbeat) run(ctx context.Context) {
	defer close(hb.done)

	ticker := hb.conn.clock.NewTicker(hb.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if err := hb.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			failures++
			hb.conn.log.Warn("heartbeat failed",
				zap.Int("consecutive_failures", failures), zap.Error(err))
			if failures >= maxHeartbeatFailures {
				hb.conn.log.Error("heartbeat giving up, session presumed lost")
				return
			}
			continue
		}
		failures = 0
	}
}

func (hb *heartbeat) tick(ctx context.Context) error {
	tickCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	return hb.conn.sessionHeartbeat(tickCtx)
}
