// Package httpdoc serves a teamsync.RemoteStore over HTTP and websockets and
// provides the matching client.
//
// Routes:
//
//	PUT   /v1/docs/{collection}/{id}   create (replace) a document
//	PATCH /v1/docs/{collection}/{id}   merge into a document, creating it when absent
//	POST  /v1/query/{collection}       one-shot filtered read
//	GET   /v1/subscribe/{collection}   websocket pushing full result sets
//	GET   /healthz                     liveness, never authenticated
package httpdoc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
)

// QueryRequest is the body of a query call.
type QueryRequest struct {
	Filters []teamsync.Filter `json:"filters"`
}

// QueryResponse is the result of a query call.
type QueryResponse struct {
	Documents []teamsync.Fields `json:"documents"`
}

// SnapshotMessage is pushed over a subscription websocket after every change
// to the subscribed result set.
type SnapshotMessage struct {
	Type         string            `json:"type"`
	Subscription string            `json:"subscription"`
	Documents    []teamsync.Fields `json:"documents"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

const messageSnapshot = "snapshot"

// encodeFilters renders filters for the subscribe query string.
func encodeFilters(filters []teamsync.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}
	return string(data), nil
}

func decodeFilters(s string) ([]teamsync.Filter, error) {
	if s == "" {
		return nil, nil
	}
	var filters []teamsync.Filter
	if err := json.Unmarshal([]byte(s), &filters); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}
	return filters, nil
}

// decodeTimestamps turns RFC 3339 strings under "...At" keys into time.Time,
// the shape server timestamps have in the in-process store.
func decodeTimestamps(f teamsync.Fields) teamsync.Fields {
	for k, v := range f {
		s, ok := v.(string)
		if !ok || !strings.HasSuffix(k, "At") {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			f[k] = t
		}
	}
	return f
}
