package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Wire types are duplicated from the daemon so doorctl builds standalone.

// ActionEnvelope wraps actions for JSON
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type barrierSample struct {
	Barrier string `json:"barrier"`
	Raw     int    `json:"raw"`
}

type getCrossings struct {
	Limit int `json:"limit,omitempty"`
}

// client sends one action per connection.
type client struct {
	socketPath string
	timeout    time.Duration
}

func newClient(socketPath string) *client {
	return &client{socketPath: socketPath, timeout: 5 * time.Second}
}

// call sends {type, data} and returns the response payload. A daemon-side
// error is returned as a Go error.
func (c *client) call(actionType string, data any) (json.RawMessage, error) {
	env := ActionEnvelope{Type: actionType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", actionType, err)
		}
		env.Data = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is doorcounter running?)", c.socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp.Data, nil
}
