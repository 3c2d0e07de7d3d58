// Package main runs a demo WebSocket client for pipeline events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoManifest = `Fa P0298-00000001 ALMACEN NORTE Artigas 395, Rosario 4
Fa P0298-00000002 KIOSCO SUR San Martin 1200, Rosario 2
Cantidad de Facturas: 2 Cantidad de Remitos: 0 Bultos: 6
`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	for id, topic := range map[string]string{"1": "manifests", "2": "deliveries"} {
		pl, _ := json.Marshal(map[string]string{"topic": topic})
		if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: id, Payload: pl}); err != nil {
			log.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s: %s", m.Type, m.ID, string(m.Payload))
		}
	}()

	// Trigger events by uploading a manifest
	time.Sleep(500 * time.Millisecond)
	resp, err := http.Post(base+"/v1/manifests", "text/plain", bytes.NewReader([]byte(demoManifest)))
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("manifest upload: %s", resp.Status)

	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
