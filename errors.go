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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrClosed is returned from any operation on a connection that has
	// already transitioned to the closed state.
	ErrClosed = errors.New("cometdb: connection closed")

	// ErrEmptyResult is returned by QueryRow when the statement produced
	// zero rows.
	ErrEmptyResult = errors.New("cometdb: empty result")
)

// ServerError represents an error response from the CometDB server.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	return e.Message
}

// DecodeError reports a wire cell that cannot be decoded as its declared
// type. Raw holds a snippet of the offending input.
type DecodeError struct {
	Expected string
	Raw      string
	cause    error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("decode %s from %q: %v", e.Expected, snippet(e.Raw), e.cause)
	}
	return fmt.Sprintf("decode %s from %q: malformed input", e.Expected, snippet(e.Raw))
}

func (e *DecodeError) Unwrap() error { return e.cause }

func decodeErrorf(expected, raw string, cause error) *DecodeError {
	return &DecodeError{Expected: expected, Raw: raw, cause: cause}
}

func snippet(s string) string {
	const maxSnippet = 64
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "..."
	}
	return s
}

// BindingError reports a parameter binding mismatch: wrong placeholder
// arity, an unbound named placeholder, or mixed positional and named styles.
type BindingError struct {
	Message string
}

func (e *BindingError) Error() string {
	return "binding: " + e.Message
}

func bindingErrorf(format string, args ...any) *BindingError {
	return &BindingError{Message: fmt.Sprintf(format, args...)}
}

// QueryNotFoundError is returned when an operation references a query ID the
// server has no record of, e.g. killing an already finished query.
type QueryNotFoundError struct {
	QueryID string
	Message string
}

func (e *QueryNotFoundError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("query %s not found: %s", e.QueryID, e.Message)
	}
	return fmt.Sprintf("query %s not found", e.QueryID)
}

// TransportError wraps a network failure while talking to the sticky node.
// The core never retries it against a different node: the session state the
// request depends on lives only on the node that failed.
type TransportError struct {
	Op   string
	Node string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s on node %s: %v", e.Op, e.Node, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports a single page-fetch round trip exceeding the
// configured wait time. The same fetch may be retried by the caller.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func checkStatusCodeOK(resp *http.Response) error {
	return checkStatusCode(resp, 200)
}

func checkStatusCode(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	msg := string(data)
	if err != nil {
		return fmt.Errorf("%d: %s", resp.StatusCode, msg)
	}
	var errResp ServerError
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Message == "" {
		return fmt.Errorf("%d: %s", resp.StatusCode, msg)
	}
	return &errResp
}

// sneakyBodyClose closes the body and ignores the error.
// This is useful to close the HTTP response body when we don't care about the error.
func sneakyBodyClose(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
