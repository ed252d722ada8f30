package agent

import (
	"time"

	"github.com/valyala/fasthttp"
)

// Transport delivers event payloads to the ingestion endpoint. Telemetry is
// not a critical path: implementations must never block the caller and must
// swallow delivery errors. No acknowledgment or retry is expected.
type Transport interface {
	Send(payload []byte)
}

const beaconTimeout = 5 * time.Second

// BeaconTransport posts payloads fire-and-forget, mirroring the browser
// sendBeacon contract: the body is raw text, the send happens off the caller
// goroutine, and a failed delivery is simply lost.
type BeaconTransport struct {
	endpoint string
	client   *fasthttp.Client
}

func NewBeaconTransport(endpoint string) *BeaconTransport {
	return &BeaconTransport{
		endpoint: endpoint,
		client: &fasthttp.Client{
			ReadTimeout:  beaconTimeout,
			WriteTimeout: beaconTimeout,
		},
	}
}

func (bt *BeaconTransport) Send(payload []byte) {
	body := make([]byte, len(payload))
	copy(body, payload)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(bt.endpoint)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("text/plain;charset=UTF-8")
		req.SetBody(body)

		// Delivery errors are intentionally dropped.
		_ = bt.client.DoTimeout(req, resp, beaconTimeout)
	}()
}
