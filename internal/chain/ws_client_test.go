package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer answers every submitBatch with all transactions included.
func echoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     uint64         `json:"id"`
				Method string         `json:"method"`
				Params []BatchRequest `json:"params"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}
			if req.Method != MethodSubmitBatch {
				t.Errorf("expected %s, got %s", MethodSubmitBatch, req.Method)
			}

			var results []TxResult
			for _, tx := range req.Params[0].Transactions {
				results = append(results, TxResult{ID: tx.ID, Included: true})
			}
			resp := map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  map[string]any{"results": results},
			}
			if err := c.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_SubmitBatch(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		results, err := client.SubmitBatch(ctx, sampleRequest())
		if err != nil {
			t.Fatalf("SubmitBatch: %v", err)
		}
		if len(results) != 2 || !results[0].Included || !results[1].Included {
			t.Errorf("unexpected results: %+v", results)
		}
	}
}

func TestWSClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		json.Unmarshal(msg, &req)
		c.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32000, "message": "busy"},
		})
		c.ReadMessage()
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.SubmitBatch(ctx, sampleRequest())
	if err == nil || !strings.Contains(err.Error(), "busy") {
		t.Fatalf("expected busy RPC error, got %v", err)
	}
}

func TestWSClient_ConnectionLostFailsPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// read the request and drop the connection without answering
		c.ReadMessage()
		c.Close()
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	client, err := NewWSClient(context.Background(), wsURL(server), &cfg, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := client.SubmitBatch(ctx, sampleRequest()); err == nil {
		t.Fatal("expected error after connection loss")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("pending request should fail when the connection drops")
	}
}

func TestWSClient_CloseIdempotent(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := client.SubmitBatch(context.Background(), sampleRequest()); err != ErrClientClosed {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}
