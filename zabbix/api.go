package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Auth    string      `json:"auth,omitempty"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s %s", e.Message, e.Data)
}

// login obtains an API session token. The
// token is reused for subsequent calls and
// refreshed by call on session expiry.
// Frontends since 5.4 take the "username"
// parameter; older ones reject it and expect
// "user", so a rejection retries once with
// the legacy name.
func (c *Client) login(ctx context.Context) error {
	token, err := c.loginAs(ctx, "username")
	if err != nil {
		if rpcErr, ok := err.(*rpcError); ok && strings.Contains(rpcErr.Data, `unexpected parameter "username"`) {
			token, err = c.loginAs(ctx, "user")
		}
	}

	if err != nil {
		return &AuthError{Message: err.Error()}
	}

	c.mu.Lock()
	c.auth = token
	c.mu.Unlock()

	return nil
}

func (c *Client) loginAs(ctx context.Context, userField string) (string, error) {
	params := map[string]string{
		userField:  c.cfg.User,
		"password": c.cfg.Password,
	}

	var token string
	err := c.rawCall(ctx, "user.login", params, "", &token)

	return token, err
}

// call issues an authenticated API request.
// An expired session is re-established once
// before the error is surfaced.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	c.mu.Lock()
	auth := c.auth
	c.mu.Unlock()

	err := c.rawCall(ctx, method, params, auth, out)
	if err == nil {
		return nil
	}

	if rpcErr, ok := err.(*rpcError); ok && sessionExpired(rpcErr) {
		if err := c.login(ctx); err != nil {
			return err
		}

		c.mu.Lock()
		auth = c.auth
		c.mu.Unlock()

		return c.wrap(method, c.rawCall(ctx, method, params, auth, out))
	}

	return c.wrap(method, err)
}

// rawCall performs a single JSON-RPC
// exchange with the frontend.
func (c *Client) rawCall(ctx context.Context, method string, params interface{}, auth string, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    auth,
		ID:      1,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-rpc")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if out != nil {
		return json.Unmarshal(rpcResp.Result, out)
	}

	return nil
}

// wrap translates raw API errors into the
// package error taxonomy.
func (c *Client) wrap(method string, err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*AuthError); ok {
		return err
	}

	return &APIError{
		Request: method,
		Message: err.Error(),
	}
}

func sessionExpired(e *rpcError) bool {
	return strings.Contains(e.Data, "Session terminated") ||
		strings.Contains(e.Data, "Not authorised") ||
		strings.Contains(e.Data, "Not authorized")
}

var senderInfoRE = regexp.MustCompile(`processed: (\d+); failed: (\d+)`)

// parseSenderInfo extracts the processed and
// failed counts from a trapper response body,
// e.g. `{"response":"success","info":"processed: 2; failed: 0; ..."}`.
func parseSenderInfo(res []byte) (SubmitResult, error) {
	m := senderInfoRE.FindSubmatch(res)
	if m == nil {
		return SubmitResult{}, &APIError{
			Request: "trapper send",
			Message: fmt.Sprintf("unparseable trapper response: %s", res),
		}
	}

	processed, _ := strconv.Atoi(string(m[1]))
	failed, _ := strconv.Atoi(string(m[2]))

	return SubmitResult{Processed: processed, Failed: failed}, nil
}
