package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ws_listen connects to the doorcounter state WebSocket and prints every
// occupancy frame. Handy when bringing up barriers on a new doorway.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type countData struct {
	Count     uint64 `json:"count"`
	Reason    string `json:"reason,omitempty"`
	Direction string `json:"direction,omitempty"`
	Applied   int    `json:"applied"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8080/ws/state", "doorcounter state websocket URL")
		raw   = flag.Bool("raw", false, "print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// The daemon pings every 20s; answering pongs is automatic, reads only
	// need a deadline long enough to cover two ping periods.
	var writeMu sync.Mutex
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	ts := "--:--:--"
	if env.Ts != nil {
		ts = env.Ts.Local().Format(time.TimeOnly)
	}

	var d countData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		fmt.Printf("%s [%s] %s\n", ts, env.Type, string(env.Data))
		return
	}

	switch env.Type {
	case "state_init":
		fmt.Printf("%s [INIT] occupancy %d\n", ts, d.Count)
	case "count_changed":
		switch {
		case d.Reason == "reset":
			fmt.Printf("%s [RESET] occupancy %d\n", ts, d.Count)
		case d.Direction == "out" && d.Applied == 0:
			fmt.Printf("%s [OUT] occupancy %d (clamped)\n", ts, d.Count)
		default:
			fmt.Printf("%s [%s] occupancy %d\n", ts, directionLabel(d.Direction), d.Count)
		}
	case "count_report":
		fmt.Printf("%s [REPORT] occupancy %d\n", ts, d.Count)
	default:
		fmt.Printf("%s [%s] %s\n", ts, env.Type, string(env.Data))
	}
}

func directionLabel(dir string) string {
	switch dir {
	case "in":
		return "IN"
	case "out":
		return "OUT"
	default:
		return "CHANGE"
	}
}
