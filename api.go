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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sticky routing and identification headers. Server-side session state lives
// on exactly one node behind the balancer; the sticky header tells the
// balancer which one.
const (
	headerQueryID    = "X-CometDB-Query-ID"
	headerStickyNode = "X-CometDB-Sticky-Node"
	headerSessionID  = "X-CometDB-Session-ID"
	headerSQL        = "X-CometDB-SQL"
	headerStageName  = "X-CometDB-Stage-Name"
)

type queryRequest struct {
	SQL             string                 `json:"sql"`
	Session         *sessionState          `json:"session,omitempty"`
	Pagination      *paginationConfig      `json:"pagination,omitempty"`
	StageAttachment *stageAttachmentConfig `json:"stage_attachment,omitempty"`
}

type paginationConfig struct {
	WaitTimeSecs   int64 `json:"wait_time_secs,omitempty"`
	MaxRowsPerPage int64 `json:"max_rows_per_page,omitempty"`
}

type stageAttachmentConfig struct {
	Location          string            `json:"location"`
	FileFormatOptions map[string]string `json:"file_format_options,omitempty"`
	CopyOptions       map[string]string `json:"copy_options,omitempty"`
}

type apiField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type progressValues struct {
	Rows  uint64 `json:"rows"`
	Bytes uint64 `json:"bytes"`
}

type queryStats struct {
	ScanProgress   progressValues `json:"scan_progress"`
	WriteProgress  progressValues `json:"write_progress"`
	ResultProgress progressValues `json:"result_progress"`
	RunningTimeMS  float64        `json:"running_time_ms"`
}

type queryResponse struct {
	ID                string        `json:"id"`
	NodeID            string        `json:"node_id,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	Session           *sessionState `json:"session,omitempty"`
	Schema            []apiField    `json:"schema,omitempty"`
	Data              [][]*string   `json:"data,omitempty"`
	State             string        `json:"state,omitempty"`
	Error             *ServerError  `json:"error,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Stats             queryStats    `json:"stats"`
	NextURI           string        `json:"next_uri,omitempty"`
	FinalURI          string        `json:"final_uri,omitempty"`
	KillURI           string        `json:"kill_uri,omitempty"`
	ResultTimeoutSecs int64         `json:"result_timeout_secs,omitempty"`
	// ArrowData carries the base64 Arrow IPC stream of this page when the
	// session requested the columnar body format.
	ArrowData string `json:"arrow_data,omitempty"`
}

type loginRequest struct {
	User     string        `json:"user,omitempty"`
	Password string        `json:"password,omitempty"`
	Session  *sessionState `json:"session,omitempty"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	Version   string `json:"version"`
}

type heartbeatRequest struct {
	SessionID string   `json:"session_id"`
	QueryIDs  []string `json:"query_ids,omitempty"`
}

type heartbeatResponse struct {
	QueriesToRemove []string `json:"queries_to_remove,omitempty"`
}

type loadResponse struct {
	ID    string         `json:"id"`
	Stats progressValues `json:"stats"`
}

// Progress is the cumulative write accounting of one load or insert
// operation. Values are monotonically non-decreasing while the operation
// runs; the final value matches what the server acknowledged.
type Progress struct {
	RowsWritten  uint64
	BytesWritten uint64
}

func (p *Progress) update(stats queryStats) {
	if stats.WriteProgress.Rows > p.RowsWritten {
		p.RowsWritten = stats.WriteProgress.Rows
	}
	if stats.WriteProgress.Bytes > p.BytesWritten {
		p.BytesWritten = stats.WriteProgress.Bytes
	}
}

func (c *Connection) genQueryID() string {
	return uuid.NewString()
}

// makeHeaders builds the per-request headers. The sticky node header is set
// whenever the connection has a node binding; it never changes for the
// lifetime of the connection.
func (c *Connection) makeHeaders(queryID string) http.Header {
	headers := make(http.Header)
	c.mu.Lock()
	if c.sessionID != "" {
		headers.Set(headerSessionID, c.sessionID)
	}
	if c.nodeID != "" {
		headers.Set(headerStickyNode, c.nodeID)
	}
	c.mu.Unlock()
	if queryID != "" {
		headers.Set(headerQueryID, queryID)
	}
	return headers
}

func (c *Connection) makePagination() *paginationConfig {
	cfg := c.client.config
	p := &paginationConfig{
		WaitTimeSecs:   int64(cfg.WaitTimeout.Seconds()),
		MaxRowsPerPage: cfg.MaxRowsPerPage,
	}
	if p.WaitTimeSecs == 0 && p.MaxRowsPerPage == 0 {
		return nil
	}
	return p
}

// submitQuery posts a new query to the sticky node and returns the first
// page of its result.
func (c *Connection) submitQuery(ctx context.Context, sql string, stage *stageAttachmentConfig) (*queryResponse, error) {
	u := c.endpoint.JoinPath("/v1/query")
	req := &queryRequest{
		SQL:             sql,
		Session:         c.sessionSnapshot(),
		Pagination:      c.makePagination(),
		StageAttachment: stage,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	queryID := c.genQueryID()
	c.log.Debug("submit query", zap.String("query_id", queryID), zap.String("sql", sql))
	resp, err := c.client.http.Post(ctx, u, body, c.makeHeaders(queryID))
	if err != nil {
		return nil, c.transportError("submit query", err)
	}
	defer sneakyBodyClose(resp.Body)
	return c.handlePage(resp, true)
}

// fetchPage issues a continuation fetch for a result handle against the
// same sticky node. Each round trip is bounded by the configured wait time.
func (c *Connection) fetchPage(ctx context.Context, queryID, nextURI string) (*queryResponse, error) {
	u, err := c.endpoint.Parse(nextURI)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.client.config.WaitTimeout+pageFetchSlack)
	defer cancel()

	resp, err := c.client.http.Get(ctx, u, c.makeHeaders(queryID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "fetch page " + nextURI, Err: err}
		}
		return nil, c.transportError("fetch page", err)
	}
	defer sneakyBodyClose(resp.Body)
	return c.handlePage(resp, false)
}

// handlePage decodes a query response, folds the round-tripped session state
// back into the connection, and on the initial page records the query id and
// node binding. Continuation pages never touch the last query id.
func (c *Connection) handlePage(resp *http.Response, isFirst bool) (*queryResponse, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		var errResp ServerError
		_ = json.Unmarshal(data, &errResp)
		return nil, &QueryNotFoundError{Message: errResp.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%d: %s", resp.StatusCode, string(data))
	}

	var respData queryResponse
	if err := json.Unmarshal(data, &respData); err != nil {
		return nil, decodeErrorf("query response", string(data), err)
	}

	c.mu.Lock()
	if respData.Session != nil {
		c.session = respData.Session.clone()
	}
	if isFirst {
		c.lastQueryID = respData.ID
		if respData.NodeID != "" {
			c.nodeID = respData.NodeID
		}
	}
	c.mu.Unlock()

	for _, w := range respData.Warnings {
		c.log.Warn("server warning", zap.String("warning", w))
	}
	if respData.Error != nil {
		return nil, respData.Error
	}
	return &respData, nil
}

// endQuery posts the kill or final verb for a query id to the sticky node.
func (c *Connection) endQuery(ctx context.Context, queryID, verb string) error {
	u := c.endpoint.JoinPath("/v1/query", queryID, verb)
	c.log.Debug("end query", zap.String("query_id", queryID), zap.String("verb", verb))

	resp, err := c.client.http.Post(ctx, u, nil, c.makeHeaders(queryID))
	if err != nil {
		return c.transportError(verb+" query", err)
	}
	defer sneakyBodyClose(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		var errResp ServerError
		_ = json.Unmarshal(data, &errResp)
		msg := errResp.Message
		if msg == "" {
			msg = string(data)
		}
		return &QueryNotFoundError{QueryID: queryID, Message: msg}
	}
	return checkStatusCodeOK(resp)
}

// sessionLogin establishes the server-side session on the sticky node.
func (c *Connection) sessionLogin(ctx context.Context) (*loginResponse, error) {
	u := c.endpoint.JoinPath("/v1/session/login")
	body, err := json.Marshal(&loginRequest{
		User:     c.client.config.User,
		Password: c.client.config.Password,
		Session:  c.sessionSnapshot(),
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.client.http.Post(ctx, u, body, c.makeHeaders(""))
	if err != nil {
		return nil, c.transportError("login", err)
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var respData loginResponse
	if err := json.Unmarshal(data, &respData); err != nil {
		return nil, decodeErrorf("login response", string(data), err)
	}
	return &respData, nil
}

// sessionLogout tears down the server-side session. The server drops every
// temporary table and open cursor the session owns before answering.
func (c *Connection) sessionLogout(ctx context.Context) error {
	u := c.endpoint.JoinPath("/v1/session/logout")
	resp, err := c.client.http.Post(ctx, u, nil, c.makeHeaders(""))
	if err != nil {
		return c.transportError("logout", err)
	}
	defer sneakyBodyClose(resp.Body)
	return checkStatusCodeOK(resp)
}

// sessionHeartbeat refreshes the session TTL and the liveness of result
// handles that still have pages pending.
func (c *Connection) sessionHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	req := heartbeatRequest{
		SessionID: c.sessionID,
		QueryIDs:  make([]string, 0, len(c.openHandles)),
	}
	for queryID := range c.openHandles {
		req.QueryIDs = append(req.QueryIDs, queryID)
	}
	c.mu.Unlock()

	u := c.endpoint.JoinPath("/v1/session/heartbeat")
	body, err := json.Marshal(&req)
	if err != nil {
		return err
	}
	resp, err := c.client.http.Post(ctx, u, body, c.makeHeaders(""))
	if err != nil {
		return c.transportError("heartbeat", err)
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var respData heartbeatResponse
	if err := json.Unmarshal(data, &respData); err != nil {
		return decodeErrorf("heartbeat response", string(data), err)
	}
	if len(respData.QueriesToRemove) > 0 {
		c.mu.Lock()
		for _, queryID := range respData.QueriesToRemove {
			delete(c.openHandles, queryID)
		}
		c.mu.Unlock()
	}
	return nil
}

// uploadToStage streams data into a server-side staging location.
func (c *Connection) uploadToStage(ctx context.Context, stage string, data io.Reader) error {
	u := c.endpoint.JoinPath("/v1/upload_to_stage")
	headers := c.makeHeaders(c.genQueryID())
	headers.Set(headerStageName, stage)

	resp, err := c.client.http.Upload(ctx, u, headers, stage, data)
	if err != nil {
		return c.transportError("upload to stage", err)
	}
	defer sneakyBodyClose(resp.Body)
	return checkStatusCodeOK(resp)
}

// streamingLoad uploads load data directly, bypassing the staging area. The
// SQL travels in a header, the data as a multipart body.
func (c *Connection) streamingLoad(ctx context.Context, sql string, data io.Reader) (*loadResponse, error) {
	u := c.endpoint.JoinPath("/v1/streaming_load")
	headers := c.makeHeaders(c.genQueryID())
	headers.Set(headerSQL, url.PathEscape(sql))

	resp, err := c.client.http.Upload(ctx, u, headers, "data", data)
	if err != nil {
		return nil, c.transportError("streaming load", err)
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var respData loadResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, decodeErrorf("load response", string(body), err)
	}
	return &respData, nil
}

func (c *Connection) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransportError{Op: op, Node: c.endpoint.Host, Err: err}
}
