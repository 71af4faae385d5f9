package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/utils"
)

const FallbackPort = 19190

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     *string         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Transfer is the subset of an aria2 download status the monitor needs.
// aria2 encodes numbers as strings.
type Transfer struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
}

func (t Transfer) Total() int64     { return parseInt(t.TotalLength) }
func (t Transfer) Completed() int64 { return parseInt(t.CompletedLength) }
func (t Transfer) Speed() float64 {
	f, _ := strconv.ParseFloat(t.DownloadSpeed, 64)
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Client is a JSON-RPC 2.0 client for the segmented backend's loopback endpoint.
type Client struct {
	endpoint string
	http     *utils.HTTPClient
	newID    func() string
}

func NewClient(port int) *Client {
	return NewClientForEndpoint(fmt.Sprintf("http://localhost:%d/jsonrpc", port))
}

func NewClientForEndpoint(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     utils.NewHTTPClient(utils.HTTPClientConfig{}),
		newID:    uuid.NewString,
	}
}

// Call issues one request. The response must echo the request id; anything
// else means the control channel is corrupted.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	id := c.newID()
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("rpc %s: decoding response: %w", method, err)
	}
	if decoded.ID == nil || *decoded.ID != id {
		return fmt.Errorf("rpc %s: %w", method, backend.ErrProtocolMismatch)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc %s: error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, result)
}

func (c *Client) TellActive(ctx context.Context) ([]Transfer, error) {
	var out []Transfer
	err := c.Call(ctx, "aria2.tellActive", nil, &out)
	return out, err
}

func (c *Client) TellStopped(ctx context.Context, offset, limit int) ([]Transfer, error) {
	var out []Transfer
	err := c.Call(ctx, "aria2.tellStopped", []any{offset, limit}, &out)
	return out, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, "aria2.shutdown", nil, nil)
}

// FindAvailablePort asks the kernel for a free loopback port. Call it right
// before spawning the backend that will bind it.
func FindAvailablePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return FallbackPort
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
