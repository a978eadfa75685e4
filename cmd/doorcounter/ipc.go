package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "action_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// sampleResult is the data payload for barrier_sample. It carries no
// count: a worker applies the crossing after the reply is written.
type sampleResult struct {
	Verdict string `json:"verdict"`
}

// runIPCServer serves the socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, ctrl Controller, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, ctrl, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, ctrl Controller, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var resp IPCResponse
		act, err := UnmarshalAction([]byte(line))
		if err != nil {
			resp = errorIPCResponse(fmt.Errorf("parse action: %w", err))
		} else {
			resp = dispatchAction(ctx, ctrl, act)
		}

		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// dispatchAction executes one action against the controller.
func dispatchAction(ctx context.Context, ctrl Controller, act Action) IPCResponse {
	switch a := act.(type) {
	case BarrierSample:
		b, err := ParseBarrier(a.Barrier)
		if err != nil {
			return errorIPCResponse(err)
		}
		v := ctrl.InjectSample(b, a.Raw)
		return okIPCResponse(sampleResult{Verdict: v.String()})

	case GetCount:
		return okIPCResponse(countResponse{Count: ctrl.Count(), At: time.Now().UTC()})

	case ResetCount:
		prev := ctrl.ResetCount("ipc")
		return okIPCResponse(resetResponse{Previous: prev, Count: ctrl.Count()})

	case GetStatus:
		return okIPCResponse(ctrl.Status(ctx))

	case GetCrossings:
		records, err := ctrl.RecentCrossings(ctx, a.Limit)
		if err != nil {
			return errorIPCResponse(err)
		}
		return okIPCResponse(records)

	default:
		return errorIPCResponse(fmt.Errorf("unsupported action %T", act))
	}
}

func okIPCResponse(v any) IPCResponse {
	data, err := json.Marshal(v)
	if err != nil {
		return errorIPCResponse(fmt.Errorf("marshal response: %w", err))
	}
	return IPCResponse{Status: "ok", Data: data}
}

func errorIPCResponse(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// SendIPCAction sends one action to the daemon and returns its response.
func SendIPCAction(socketPath string, act Action) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalAction(act)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal action: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
