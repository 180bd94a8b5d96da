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

// sessionState is the session record the server round-trips on every query
// response. The client stores the latest copy verbatim and sends it back on
// the next request, so server-side session changes (SET statements, USE,
// temp-table bookkeeping) survive across requests.
type sessionState struct {
	Database string            `json:"database,omitempty"`
	Role     string            `json:"role,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
	TxnState string            `json:"txn_state,omitempty"`
	// NeedSticky is set by the server once the session holds node-local
	// state (temporary tables, open cursors). From then on every request
	// must carry the sticky node header.
	NeedSticky bool `json:"need_sticky,omitempty"`
	// NeedKeepAlive is set once the session must be refreshed by heartbeats
	// to stay alive between requests.
	NeedKeepAlive bool `json:"need_keep_alive,omitempty"`
}

func (s *sessionState) clone() *sessionState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Settings != nil {
		cp.Settings = make(map[string]string, len(s.Settings))
		for k, v := range s.Settings {
			cp.Settings[k] = v
		}
	}
	return &cp
}

func (s *sessionState) timezone() string {
	if s == nil {
		return ""
	}
	return s.Settings["timezone"]
}
