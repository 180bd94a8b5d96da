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
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// pageFetchSlack pads the per-fetch deadline beyond the server-side wait
// time so a server answering right at the boundary is not cut off in flight.
const pageFetchSlack = 5 * time.Second

// Connection is a sticky, stateful session against a single node of the
// cluster. All queries issued through one Connection land on the same node;
// server-side state such as temporary tables, session settings, and open
// result cursors lives only there.
//
// A Connection is safe for concurrent use. It must be closed with Close when
// no longer needed; an unclosed Connection leaks the server-side session
// until its TTL expires.
type Connection struct {
	client   *Client
	endpoint *url.URL
	log      *zap.Logger
	clock    clockwork.Clock

	mu          sync.Mutex
	established bool
	closed      bool
	sessionID   string
	nodeID      string
	lastQueryID string
	session     *sessionState
	openHandles map[string]*RowIterator

	hb *heartbeat
}

func newConnection(client *Client, endpoint *url.URL) *Connection {
	cfg := client.config
	state := &sessionState{
		Database: cfg.Database,
		Settings: cloneSettings(cfg.Settings),
	}
	if cfg.BodyFormat == BodyFormatArrow {
		if state.Settings == nil {
			state.Settings = make(map[string]string, 1)
		}
		state.Settings["result_body_format"] = "arrow"
	}
	return &Connection{
		client:      client,
		endpoint:    endpoint,
		log:         client.log.With(zap.String("node", endpoint.Host)),
		clock:       client.clock,
		session:     state,
		openHandles: make(map[string]*RowIterator),
	}
}

func cloneSettings(settings map[string]string) map[string]string {
	if settings == nil {
		return nil
	}
	cloned := make(map[string]string, len(settings))
	for k, v := range settings {
		cloned[k] = v
	}
	return cloned
}

// sessionSnapshot returns a copy of the current round-tripped session state,
// safe to marshal outside the lock.
func (c *Connection) sessionSnapshot() *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// ensure lazily establishes the server-side session on first use and starts
// the keep-alive loop. Subsequent calls only check for closure.
func (c *Connection) ensure(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.established {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	resp, err := c.sessionLogin(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.established {
		return nil
	}
	c.sessionID = resp.SessionID
	c.nodeID = resp.NodeID
	c.established = true
	c.log.Debug("session established",
		zap.String("session_id", resp.SessionID),
		zap.String("node_id", resp.NodeID),
		zap.String("server_version", resp.Version))
	if c.client.config.HeartbeatInterval > 0 {
		c.hb = startHeartbeat(c)
	}
	return nil
}

// Exec runs a statement to completion, discarding any rows it produces, and
// returns the number of rows the statement wrote. Args are bound
// client-side; see Query for the placeholder rules.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	iter, err := c.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if err := iter.Drain(ctx); err != nil {
		return 0, err
	}
	return int64(iter.Progress().RowsWritten), nil
}

// Query runs a statement and returns an iterator over its result rows.
//
// The statement may carry positional placeholders (?) or named placeholders
// (:name, bound via Named); mixing the two styles is rejected. The iterator
// must be closed; closing it releases the server-side cursor.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (*RowIterator, error) {
	bound, err := bindParams(sql, args)
	if err != nil {
		return nil, err
	}
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	resp, err := c.submitQuery(ctx, bound, nil)
	if err != nil {
		return nil, err
	}
	iter, err := newRowIterator(c, resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		iter.Close()
		return nil, ErrClosed
	}
	c.openHandles[iter.queryID] = iter
	c.mu.Unlock()
	return iter, nil
}

// QueryRow runs a statement expected to produce at least one row and returns
// the first one, draining and releasing the rest. It returns ErrEmptyResult
// when the statement succeeds but produces no rows.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) (*Row, error) {
	iter, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	row, err := iter.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyResult
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// KillQuery cancels a running query by id on the connection's node. Killing
// a query the node does not know returns a QueryNotFoundError.
func (c *Connection) KillQuery(ctx context.Context, queryID string) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}
	return c.endQuery(ctx, queryID, "kill")
}

// LastQueryID returns the server-assigned id of the most recently submitted
// statement, or the empty string if none was submitted yet. Page fetches and
// internal requests do not affect it.
func (c *Connection) LastQueryID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastQueryID
}

// NodeID returns the cluster node this connection is pinned to, or the empty
// string before the session is established.
func (c *Connection) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeID
}

// Database returns the session's current database.
func (c *Connection) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Database
}

// releaseHandle drops an iterator from the open set. Called by the iterator
// itself on close or exhaustion.
func (c *Connection) releaseHandle(queryID string) {
	c.mu.Lock()
	delete(c.openHandles, queryID)
	c.mu.Unlock()
}

// Close releases the connection. It stops the keep-alive loop, waiting out
// any tick already in flight, closes open result iterators, and logs out the
// server-side session, which drops the session's temporary tables. Close is
// idempotent; calls after the first return nil.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hb := c.hb
	established := c.established
	open := make([]*RowIterator, 0, len(c.openHandles))
	for _, iter := range c.openHandles {
		open = append(open, iter)
	}
	c.openHandles = make(map[string]*RowIterator)
	c.mu.Unlock()

	if hb != nil {
		hb.stop()
	}

	var errs []error
	for _, iter := range open {
		if err := iter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if established {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := c.sessionLogout(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		}
	}
	if len(errs) > 0 {
		c.log.Warn("connection closed with errors", zap.Errors("errors", errs))
		return errors.Join(errs...)
	}
	c.log.Debug("connection closed")
	return nil
}

const closeTimeout = 10 * time.Second
