package actions

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

// DefaultRequestTimeout is used by pipe_request when the action doesn't
// set its own timeout field (§6 "Duration literals").
const DefaultRequestTimeout = 5 * time.Second

// sender is satisfied by transports that support one-way outbound writes
// (websocket, tcp). mqtt's Publish is topic-addressed instead, handled
// separately below; udp's SendTo needs a destination address and http is
// inbound-only, so neither fits this generic action.
type sender interface {
	Send(data []byte) error
}

// publisher is satisfied by the mqtt transport.
type publisher interface {
	Publish(topic string, payload []byte) error
}

// requester is satisfied by transports with a request/response overlay
// (websocket).
type requester interface {
	Request(ctx context.Context, correlationID string, data []byte) ([]byte, error)
}

func (b *Bindings) registerPipeActions(reg *action.Registry) {
	reg.Register("pipe_send", b.handlePipeSend)
	reg.Register("pipe_request", b.handlePipeRequest)
}

func (b *Bindings) lookupPipeTransport(name string) (any, error) {
	p, ok := b.Pipes[name]
	if !ok {
		return nil, errs.NewValidationError("pipe %q is not configured", name)
	}
	return p.Transport(), nil
}

func (b *Bindings) handlePipeSend(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	name, err := evalString(ex, ac, act.GetString("pipe"))
	if err != nil {
		return action.Result{}, err
	}
	transport, err := b.lookupPipeTransport(name)
	if err != nil {
		return action.Result{}, err
	}

	dataRaw, _ := act.Get("data")
	data, err := evalPayload(ex, ac, dataRaw)
	if err != nil {
		return action.Result{}, err
	}

	if topic := act.GetString("topic"); topic != "" {
		pub, ok := transport.(publisher)
		if !ok {
			return action.Result{}, errs.NewRuntimeError("pipe", "pipe %q does not support topic publish", name)
		}
		topicEval, err := evalString(ex, ac, topic)
		if err != nil {
			return action.Result{}, err
		}
		if err := pub.Publish(topicEval, data); err != nil {
			return action.Result{}, errs.NewTransportError(name, err)
		}
		return action.Result{Signal: action.SignalNone}, nil
	}

	s, ok := transport.(sender)
	if !ok {
		return action.Result{}, errs.NewRuntimeError("pipe", "pipe %q does not support pipe_send", name)
	}
	if err := s.Send(data); err != nil {
		return action.Result{}, errs.NewTransportError(name, err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handlePipeRequest(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	name, err := evalString(ex, ac, act.GetString("pipe"))
	if err != nil {
		return action.Result{}, err
	}
	transport, err := b.lookupPipeTransport(name)
	if err != nil {
		return action.Result{}, err
	}
	req, ok := transport.(requester)
	if !ok {
		return action.Result{}, errs.NewRuntimeError("pipe", "pipe %q does not support pipe_request", name)
	}

	correlationID, err := evalString(ex, ac, act.GetString("correlation_id"))
	if err != nil {
		return action.Result{}, err
	}
	if correlationID == "" {
		correlationID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	dataRaw, _ := act.Get("data")
	data, err := evalPayload(ex, ac, dataRaw)
	if err != nil {
		return action.Result{}, err
	}

	timeout := DefaultRequestTimeout
	if timeoutRaw, ok := act.Get("timeout"); ok {
		val, err := evalField(ex, ac, timeoutRaw)
		if err != nil {
			return action.Result{}, err
		}
		if s, ok := val.(string); ok {
			if d, err := str2duration.ParseDuration(s); err == nil {
				timeout = d
			}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := req.Request(reqCtx, correlationID, data)
	if err != nil {
		return action.Result{}, &errs.RequestTimeout{Pipe: name}
	}

	if as := act.GetString("as"); as != "" {
		ac.Set(as, string(resp))
	}
	return action.Result{Signal: action.SignalNone, Data: string(resp)}, nil
}

// evalPayload evaluates the "data" action field into bytes: strings pass
// through their evaluated form as-is; anything else (numbers, maps) is
// JSON-encoded, since the transport layer is payload-format-agnostic
// and JSON is what most pipe consumers expect on the wire.
func evalPayload(ex *action.Executor, ac *action.Context, v any) ([]byte, error) {
	val, err := evalField(ex, ac, v)
	if err != nil {
		return nil, err
	}
	if s, ok := val.(string); ok {
		return []byte(s), nil
	}
	if val == nil {
		return nil, nil
	}
	return json.Marshal(val)
}
