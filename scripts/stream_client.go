// Package main runs a demo client: it registers a webhook, queues a test delivery
// and prints delivery outcomes from the websocket stream.
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

type streamMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	port := getenv("PORT", "8080")
	token := getenv("HOOKRELAY_TOKEN", "demo:*")
	target := getenv("WEBHOOK_URL", "http://localhost:9000/hook")
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect the stream first so the test delivery outcome is not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/webhooks/deliveries/stream"}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m streamMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	var sub struct {
		WebhookID   string `json:"webhook_id"`
		SecretToken string `json:"secret_token"`
	}
	if err := post(base+"/v1/webhooks/subscribe", token, map[string]any{
		"trigger_type": "analysis.completed",
		"webhook_url":  target,
	}, &sub); err != nil {
		log.Fatal(err)
	}
	log.Printf("Webhook ID: %s (secret %s)", sub.WebhookID, sub.SecretToken)

	if err := post(base+"/v1/webhooks/test", token, map[string]any{"webhook_id": sub.WebhookID}, nil); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}

func post(endpoint, token string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var p map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&p)
		return fmt.Errorf("%s: %d %v", endpoint, resp.StatusCode, p)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
