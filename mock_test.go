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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockNode fakes a single cluster node. Result pages for the next query are
// queued with servePages; every request's headers are recorded for
// stickiness assertions.
type mockNode struct {
	t   *testing.T
	srv *httptest.Server

	mu              sync.Mutex
	pages           []queryResponse
	pageDelay       time.Duration
	queryHdrs       []http.Header
	logins          int
	logouts         int
	heartbeats      int
	heartbeatStatus int
	finals          []string
	kills           []string
	killStatus      int
	uploads         [][]byte
	loadStats       progressValues
}

func newMockNode(t *testing.T) *mockNode {
	n := &mockNode{t: t, killStatus: http.StatusOK}
	n.srv = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *mockNode) servePages(pages ...queryResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages = pages
}

// serveLoadStats fixes the stats the streaming load endpoint acknowledges,
// instead of deriving them from the uploaded payload.
func (n *mockNode) serveLoadStats(stats progressValues) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loadStats = stats
}

// delayPages stalls continuation page fetches without touching the initial
// submit. A stalled fetch returns as soon as the client gives up on it.
func (n *mockNode) delayPages(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pageDelay = d
}

func (n *mockNode) counts() (logins, logouts, heartbeats int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logins, n.logouts, n.heartbeats
}

func (n *mockNode) finalized() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.finals...)
}

func (n *mockNode) uploaded() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.uploads...)
}

func (n *mockNode) queryHeaders() []http.Header {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]http.Header(nil), n.queryHdrs...)
}

func (n *mockNode) handle(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "/page/") {
		n.mu.Lock()
		delay := n.pageDelay
		n.mu.Unlock()
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/v1/session/login":
		n.logins++
		writeJSON(w, loginResponse{SessionID: "sess-1", NodeID: "node-a", Version: "0.1.0"})
	case path == "/v1/session/logout":
		n.logouts++
		writeJSON(w, struct{}{})
	case path == "/v1/session/heartbeat":
		n.heartbeats++
		if n.heartbeatStatus != 0 && n.heartbeatStatus != http.StatusOK {
			http.Error(w, `{"code":500,"message":"heartbeat rejected"}`, n.heartbeatStatus)
			return
		}
		writeJSON(w, heartbeatResponse{})
	case path == "/v1/query":
		n.queryHdrs = append(n.queryHdrs, r.Header.Clone())
		if len(n.pages) == 0 {
			http.Error(w, `{"code":500,"message":"no pages queued"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, n.pages[0])
	case strings.HasPrefix(path, "/v1/query/") && strings.Contains(path, "/page/"):
		n.queryHdrs = append(n.queryHdrs, r.Header.Clone())
		idx, err := strconv.Atoi(path[strings.LastIndexByte(path, '/')+1:])
		if err != nil || idx >= len(n.pages) {
			http.Error(w, `{"code":404,"message":"page not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, n.pages[idx])
	case strings.HasSuffix(path, "/final"):
		n.finals = append(n.finals, queryIDFromPath(path))
		writeJSON(w, struct{}{})
	case strings.HasSuffix(path, "/kill"):
		n.kills = append(n.kills, queryIDFromPath(path))
		if n.killStatus != http.StatusOK {
			w.WriteHeader(n.killStatus)
			_, _ = w.Write([]byte(`{"code":404,"message":"query not found on this node"}`))
			return
		}
		writeJSON(w, struct{}{})
	case path == "/v1/upload_to_stage":
		data, err := readUploadPart(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.uploads = append(n.uploads, data)
		writeJSON(w, struct{}{})
	case path == "/v1/streaming_load":
		data, err := readUploadPart(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.uploads = append(n.uploads, data)
		stats := n.loadStats
		if stats.Rows == 0 {
			stats = countLoadStats(data)
		}
		writeJSON(w, loadResponse{ID: "load-1", Stats: stats})
	default:
		http.Error(w, fmt.Sprintf(`{"code":404,"message":"no route %s"}`, path), http.StatusNotFound)
	}
}

func queryIDFromPath(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-2]
}

func readUploadPart(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		return nil, err
	}
	files := r.MultipartForm.File["upload"]
	if len(files) != 1 {
		return nil, fmt.Errorf("expected one upload part, got %d", len(files))
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, err
	}
	defer sneakyBodyClose(f)
	return io.ReadAll(f)
}

func countLoadStats(data []byte) progressValues {
	rows := bytes.Count(data, []byte{'\n'})
	return progressValues{Rows: uint64(rows), Bytes: uint64(len(data))}
}

func mustExec(t *testing.T, ctx context.Context, conn *Connection, sql string, args ...any) {
	t.Helper()
	_, err := conn.Exec(ctx, sql, args...)
	require.NoError(t, err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// pageOf builds a JSON result page of int64/string pairs.
func pageOf(queryID string, next, final string, rows ...[2]string) queryResponse {
	data := make([][]*string, 0, len(rows))
	for i := range rows {
		data = append(data, []*string{&rows[i][0], &rows[i][1]})
	}
	return queryResponse{
		ID:     queryID,
		NodeID: "node-a",
		Schema: []apiField{
			{Name: "n", Type: "Int64"},
			{Name: "name", Type: "String"},
		},
		Data:     data,
		State:    "running",
		NextURI:  next,
		FinalURI: final,
	}
}

func newTestClient(t *testing.T, node *mockNode, mutate ...func(*Config)) *Client {
	cfg := &Config{
		Nodes:    []string{node.srv.URL},
		Database: "testdb",
	}
	for _, f := range mutate {
		f(cfg)
	}
	return NewClient(cfg)
}
