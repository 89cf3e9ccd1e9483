// Package rpc carries the calls a running script makes on the dialog,
// system and web-automation façades to the bot server.
//
// Every call is correlated to its session by the invocation id the script
// passes as the invocationId argument.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// InvocationHeader carries the invocation id on every façade request.
const InvocationHeader = "X-Invocation-Id"

// Caller performs operations on one façade.
type Caller interface {
	Call(ctx context.Context, op string, args map[string]any) (any, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, op string, args map[string]any) (any, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	return f(ctx, op, args)
}

// Set holds one Caller per façade.
type Set map[keywords.Facade]Caller

// Caller returns the caller for f.
func (s Set) Caller(f keywords.Facade) (Caller, bool) {
	c, ok := s[f]
	return c, ok && c != nil
}

// HTTPCaller posts operations as JSON to
// <base>/api/v2/<botId>/<facade>/<operation>.
type HTTPCaller struct {
	facade   keywords.Facade
	endpoint string
	client   *http.Client
	log      *zap.SugaredLogger
}

// NewHTTPSet creates HTTP callers for all façades of botID.
func NewHTTPSet(baseURL, botID string, client *http.Client, log *zap.SugaredLogger) (Set, error) {
	set := make(Set, len(Facades))
	for _, f := range Facades {
		c, err := NewHTTPCaller(baseURL, botID, f, client, log)
		if err != nil {
			return nil, err
		}
		set[f] = c
	}
	return set, nil
}

// NewHTTPCaller creates a caller for one façade of botID.
func NewHTTPCaller(baseURL, botID string, f keywords.Facade, client *http.Client, log *zap.SugaredLogger) (*HTTPCaller, error) {
	if Operations(f) == nil {
		return nil, errors.NewInvalidRequestError("unknown facade %q", f)
	}
	if botID == "" {
		return nil, errors.NewInvalidRequestError("bot id is required")
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewInvalidRequestError("invalid rpc base url %q", baseURL)
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPCaller{
		facade:   f,
		endpoint: base.JoinPath("api", "v2", botID, strings.ToLower(string(f))).String(),
		client:   client,
		log:      logger.OrNop(log).Named("rpc").With(logger.FieldBot, botID, logger.FieldFacade, string(f)),
	}, nil
}

// Endpoint returns the façade's URL without an operation.
func (c *HTTPCaller) Endpoint() string {
	return c.endpoint
}

// Call implements Caller.
func (c *HTTPCaller) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	if !Known(c.facade, op) {
		return nil, errors.NewInvalidRequestError("%s has no operation %q", c.facade, op)
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s.%s arguments", c.facade, op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s.%s request", c.facade, op)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := args["invocationId"]; ok && id != nil {
		req.Header.Set(InvocationHeader, fmt.Sprint(id))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s.%s", c.facade, op)
		}
		return nil, errors.Wrapf(err, "%s.%s", c.facade, op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s.%s response", c.facade, op)
	}

	c.log.Debugw("Facade call",
		logger.FieldOperation, op,
		"status", resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.Newf("%s.%s: server returned %d", c.facade, op, resp.StatusCode)
		if msg := strings.TrimSpace(string(data)); msg != "" {
			err = errors.WithDetail(err, msg)
		}
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "decode %s.%s response", c.facade, op)
	}
	return result, nil
}

// maxResponseBytes bounds a façade response held in memory.
const maxResponseBytes = 32 << 20
