package peersrc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"torrentnode.dev/indexer/xerr"
)

// httpPeer is a fanout.Peer backed by one node's HTTP query surface: Do
// POSTs the JSON body at path and returns the raw response.
type httpPeer struct {
	name    string
	baseURL string
	client  *http.Client
}

func newHTTPPeer(name, baseURL string) *httpPeer {
	return &httpPeer{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *httpPeer) Name() string { return p.name }

func (p *httpPeer) Do(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := p.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, xerr.Wrap(xerr.Protocol, "peersrc: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, xerr.Wrap(xerr.Protocol, "peersrc: "+p.name+": request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerr.Wrap(xerr.Protocol, "peersrc: "+p.name+": read response", err)
	}
	if resp.StatusCode >= 300 {
		return nil, xerr.New(xerr.Protocol, fmt.Sprintf("peersrc: %s: http %d: %s", p.name, resp.StatusCode, string(data)))
	}
	return data, nil
}
