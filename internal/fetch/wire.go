package fetch

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/pool"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// maxResponseBody caps the bytes read back off the wire regardless of
// protocol, mirroring admission's MaxBodySize bound on the request side
// (spec §4.1 "body size <= bound" generalized to the response leg).
const maxResponseBody = 64 << 20

// writeAndRead performs the wire I/O step (spec §2) over an already
// acquired PooledConnection: HTTP/1.1 framing via fasthttp.Request/
// Response for ProtoH1, net/http's RoundTripper shape via the negotiated
// http2.ClientConn for ProtoH2. internal/pool owns the transport handle;
// this is the only place that knows how to speak bytes over it.
func writeAndRead(ctx context.Context, conn *pool.PooledConnection, req *types.Request) (*types.Response, error) {
	if conn.Protocol == pool.ProtoH2 {
		return doH2(ctx, conn, req)
	}
	return doH1(ctx, conn, req)
}

func doH1(ctx context.Context, conn *pool.PooledConnection, req *types.Request) (*types.Response, error) {
	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(freq)
		fasthttp.ReleaseResponse(fresp)
	}()

	freq.Header.SetMethod(req.Method)
	freq.SetRequestURI(req.URL)
	for k, vals := range req.Headers {
		for _, v := range vals {
			freq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 {
		freq.SetBody(req.Body)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.Conn.SetDeadline(deadline)
		defer conn.Conn.SetDeadline(time.Time{})
	}

	w := bufio.NewWriter(conn.Conn)
	if err := freq.Write(w); err != nil {
		return nil, ferrors.NewTransport(err)
	}
	if err := w.Flush(); err != nil {
		return nil, ferrors.NewTransport(err)
	}

	r := bufio.NewReader(conn.Conn)
	if err := fresp.ReadLimitBody(r, maxResponseBody); err != nil {
		if ctx.Err() != nil {
			return nil, ferrors.NewTimeout(ferrors.PhaseRead)
		}
		return nil, ferrors.NewTransport(err)
	}

	headers := make(types.Header)
	fresp.Header.VisitAll(func(k, v []byte) {
		headers.Add(string(k), string(v))
	})
	body := append([]byte(nil), fresp.Body()...)

	return &types.Response{
		Status:     fresp.StatusCode(),
		Headers:    headers,
		Body:       body,
		ReceivedAt: time.Now(),
		Directives: parseCacheDirectives(headers),
	}, nil
}

func doH2(ctx context.Context, conn *pool.PooledConnection, req *types.Request) (*types.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, ferrors.NewInternal(err)
	}
	for k, vals := range req.Headers {
		for _, v := range vals {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := conn.H2ClientConn().RoundTrip(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ferrors.NewTimeout(ferrors.PhaseRead)
		}
		return nil, ferrors.NewTransport(err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseBody))
	if err != nil {
		return nil, ferrors.NewTransport(err)
	}

	headers := make(types.Header)
	for k, vals := range hresp.Header {
		for _, v := range vals {
			headers.Add(k, v)
		}
	}

	return &types.Response{
		Status:     hresp.StatusCode,
		Headers:    headers,
		Body:       body,
		ReceivedAt: time.Now(),
		Directives: parseCacheDirectives(headers),
	}, nil
}
