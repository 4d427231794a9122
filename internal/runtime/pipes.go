package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/flowbotic/runtime/internal/config"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/pipe"
	"github.com/flowbotic/runtime/internal/spec"
)

// buildPipes constructs one pipe.Pipe per declared spec.Pipe, wiring its
// concrete transport from the pipe's freeform Config map, and routes every
// inbound message to "pipe:<name>:message" on router. It does not Start
// any of them — that's the Runtime's job once every component exists.
func buildPipes(pipes []spec.Pipe, router *event.Router, errHandler *errs.Handler, cfg config.Pipes) (map[string]*pipe.Pipe, error) {
	out := make(map[string]*pipe.Pipe, len(pipes))
	opts := []pipe.Option{
		pipe.WithMaxAttempts(cfg.MaxAttempts),
		pipe.WithBackoffDelay(cfg.BackoffDelay),
	}

	for _, p := range pipes {
		transport, err := buildTransport(p, router)
		if err != nil {
			return nil, fmt.Errorf("pipe %q: %w", p.Name, err)
		}
		out[p.Name] = pipe.New(p.Name, transport, router, errHandler, opts...)
	}
	return out, nil
}

func buildTransport(p spec.Pipe, router *event.Router) (pipe.Transport, error) {
	switch p.Type {
	case "http", "webhook":
		return buildHTTPTransport(p, router), nil
	case "websocket":
		return buildWebSocketTransport(p, router), nil
	case "mqtt":
		return buildMQTTTransport(p, router), nil
	case "tcp":
		return buildTCPTransport(p, router), nil
	case "udp":
		return buildUDPTransport(p, router), nil
	default:
		return nil, fmt.Errorf("unknown pipe type %q", p.Type)
	}
}

func cfgString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func cfgStrings(cfg map[string]any, key string) []string {
	raw, _ := cfg[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// emitInbound decodes data as JSON (falling back to a raw string body) and
// emits it as an event payload, merged with the pipe's own name so flows
// can tell which connector a message arrived on.
func emitInbound(router *event.Router, name, eventName string, data []byte) {
	payload := map[string]any{"pipe": name, "raw": string(data)}
	var decoded map[string]any
	if json.Unmarshal(data, &decoded) == nil {
		for k, v := range decoded {
			payload[k] = v
		}
	}
	router.Emit(context.Background(), eventName, payload)
}

func buildHTTPTransport(p spec.Pipe, router *event.Router) pipe.Transport {
	address := cfgString(p.Config, "address")
	path := cfgString(p.Config, "path")
	eventName := "pipe:" + p.Name + ":message"

	return pipe.NewHTTPTransport(address, path, func(header http.Header, body []byte) (int, []byte) {
		emitInbound(router, p.Name, eventName, body)
		return http.StatusOK, nil
	})
}

func buildWebSocketTransport(p spec.Pipe, router *event.Router) pipe.Transport {
	url := cfgString(p.Config, "url")
	eventName := "pipe:" + p.Name + ":message"

	var ws *pipe.WebSocketTransport
	onMessage := func(data []byte) {
		var decoded map[string]any
		if json.Unmarshal(data, &decoded) == nil {
			if cid, ok := decoded["correlation_id"].(string); ok && cid != "" {
				ws.Resolve(cid, data)
				return
			}
		}
		emitInbound(router, p.Name, eventName, data)
	}
	ws = pipe.NewWebSocketTransport(url, onMessage)
	return ws
}

func buildMQTTTransport(p spec.Pipe, router *event.Router) pipe.Transport {
	broker := cfgString(p.Config, "broker")
	clientID := cfgString(p.Config, "client_id")
	username := cfgString(p.Config, "username")
	password := cfgString(p.Config, "password")

	mq := pipe.NewMQTTTransport(broker, clientID, username, password)
	for _, topic := range cfgStrings(p.Config, "topics") {
		eventName := "pipe:" + p.Name + ":message"
		mq.Subscribe(topic, func(gotTopic string, payload []byte) {
			data := map[string]any{"pipe": p.Name, "topic": gotTopic, "raw": string(payload)}
			var decoded map[string]any
			if json.Unmarshal(payload, &decoded) == nil {
				for k, v := range decoded {
					data[k] = v
				}
			}
			router.Emit(context.Background(), eventName, data)
		})
	}
	return mq
}

func buildTCPTransport(p spec.Pipe, router *event.Router) pipe.Transport {
	address := cfgString(p.Config, "address")
	server, _ := p.Config["server"].(bool)
	eventName := "pipe:" + p.Name + ":message"

	handler := func(conn net.Conn, line []byte) {
		emitInbound(router, p.Name, eventName, line)
	}
	if server {
		return pipe.NewTCPServer(address, handler)
	}
	return pipe.NewTCPClient(address, handler)
}

func buildUDPTransport(p spec.Pipe, router *event.Router) pipe.Transport {
	address := cfgString(p.Config, "address")
	group := cfgString(p.Config, "group")
	mode := pipe.UDPMode(cfgString(p.Config, "mode"))
	if mode == "" {
		mode = pipe.UDPModeUnicast
	}
	eventName := "pipe:" + p.Name + ":message"

	return pipe.NewUDPTransport(address, mode, group, func(addr *net.UDPAddr, data []byte) {
		emitInbound(router, p.Name, eventName, data)
	})
}
