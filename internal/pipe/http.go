package pipe

import (
	"context"
	"io"
	"net/http"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
)

// serviceName tags the Server header the mserver middleware sets on every
// response from an HTTP/webhook pipe.
const serviceName = "flowbotic-runtime"

// HTTPHandler receives a webhook request's body and header set.
type HTTPHandler func(header http.Header, body []byte) (status int, response []byte)

// HTTPTransport implements Transport as an inbound HTTP/webhook listener,
// following the teacher's rakunlabs/ada server wiring (New, Use, Group,
// StartWithContext).
type HTTPTransport struct {
	Address string
	Path    string
	Handler HTTPHandler

	server *ada.Server
	done   chan struct{}
}

// NewHTTPTransport constructs an HTTPTransport serving path on address.
func NewHTTPTransport(address, path string, handler HTTPHandler) *HTTPTransport {
	return &HTTPTransport{Address: address, Path: path, Handler: handler}
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(serviceName),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
	)
	mux.POST(t.Path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, resp := t.Handler(r.Header, body)
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if len(resp) > 0 {
			_, _ = w.Write(resp)
		}
	})

	t.server = mux
	done := make(chan struct{})
	t.done = done
	go func() {
		defer close(done)
		_ = mux.StartWithContext(ctx, t.Address)
	}()
	return nil
}

// Done returns a channel closed once the webhook listener stops serving.
func (t *HTTPTransport) Done() <-chan struct{} {
	return t.done
}

func (t *HTTPTransport) Close() error {
	return nil
}
