package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/teranos/gbvm/errors"
)

// maxModuleBody caps response and decompressed sizes seen by scripts.
const maxModuleBody = 16 << 20

type moduleBuilder func(ctx context.Context, rt *goja.Runtime, e *Engine) goja.Value

// modules is the require allow-list. Anything else throws.
var modules = map[string]moduleBuilder{
	"url":   urlModule,
	"zlib":  zlibModule,
	"http":  func(ctx context.Context, rt *goja.Runtime, e *Engine) goja.Value { return httpModule(ctx, rt, e, "http") },
	"https": func(ctx context.Context, rt *goja.Runtime, e *Engine) goja.Value { return httpModule(ctx, rt, e, "https") },
}

// Modules returns the names scripts may require
func Modules() []string {
	return []string{"http", "https", "url", "zlib"}
}

func throw(rt *goja.Runtime, err error) {
	panic(rt.NewGoError(err))
}

func urlModule(_ context.Context, rt *goja.Runtime, _ *Engine) goja.Value {
	parse := func(raw string) map[string]any {
		u, err := url.Parse(raw)
		if err != nil {
			throw(rt, errors.Wrapf(err, "invalid url %q", raw))
		}
		query := map[string]any{}
		for k, vs := range u.Query() {
			if len(vs) == 1 {
				query[k] = vs[0]
			} else {
				query[k] = vs
			}
		}
		search := ""
		if u.RawQuery != "" {
			search = "?" + u.RawQuery
		}
		hash := ""
		if u.Fragment != "" {
			hash = "#" + u.Fragment
		}
		protocol := ""
		if u.Scheme != "" {
			protocol = u.Scheme + ":"
		}
		return map[string]any{
			"href":     u.String(),
			"protocol": protocol,
			"host":     u.Host,
			"hostname": u.Hostname(),
			"port":     u.Port(),
			"pathname": u.EscapedPath(),
			"search":   search,
			"hash":     hash,
			"query":    query,
		}
	}

	obj := rt.NewObject()
	_ = obj.Set("parse", parse)
	_ = obj.Set("resolve", func(from, to string) string {
		base, err := url.Parse(from)
		if err != nil {
			throw(rt, errors.Wrapf(err, "invalid url %q", from))
		}
		ref, err := url.Parse(to)
		if err != nil {
			throw(rt, errors.Wrapf(err, "invalid url %q", to))
		}
		return base.ResolveReference(ref).String()
	})
	_ = obj.Set("encode", url.QueryEscape)
	_ = obj.Set("decode", func(s string) string {
		out, err := url.QueryUnescape(s)
		if err != nil {
			throw(rt, err)
		}
		return out
	})
	return obj
}

// zlibModule offers the synchronous zlib calls. Inputs are strings or
// ArrayBuffers. Outputs are ArrayBuffers unless an options object asks
// for {encoding: "utf8"} or {encoding: "base64"}.
func zlibModule(_ context.Context, rt *goja.Runtime, _ *Engine) goja.Value {
	compress := func(newWriter func(io.Writer) (io.WriteCloser, error)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			var buf bytes.Buffer
			w, err := newWriter(&buf)
			if err != nil {
				throw(rt, err)
			}
			if _, err := w.Write(moduleInput(rt, call.Argument(0))); err != nil {
				throw(rt, err)
			}
			if err := w.Close(); err != nil {
				throw(rt, err)
			}
			return moduleOutput(rt, buf.Bytes(), call.Argument(1))
		}
	}
	decompress := func(newReader func(io.Reader) (io.ReadCloser, error)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			r, err := newReader(bytes.NewReader(moduleInput(rt, call.Argument(0))))
			if err != nil {
				throw(rt, err)
			}
			defer r.Close()
			out, err := io.ReadAll(io.LimitReader(r, maxModuleBody))
			if err != nil {
				throw(rt, err)
			}
			return moduleOutput(rt, out, call.Argument(1))
		}
	}

	obj := rt.NewObject()
	_ = obj.Set("deflateSync", compress(func(w io.Writer) (io.WriteCloser, error) { return zlib.NewWriter(w), nil }))
	_ = obj.Set("inflateSync", decompress(func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) }))
	_ = obj.Set("gzipSync", compress(func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }))
	_ = obj.Set("gunzipSync", decompress(func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }))
	_ = obj.Set("deflateRawSync", compress(func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	}))
	_ = obj.Set("inflateRawSync", decompress(func(r io.Reader) (io.ReadCloser, error) { return flate.NewReader(r), nil }))
	return obj
}

func moduleInput(rt *goja.Runtime, v goja.Value) []byte {
	switch x := v.Export().(type) {
	case goja.ArrayBuffer:
		return x.Bytes()
	case []byte:
		return x
	case string:
		return []byte(x)
	case nil:
		throw(rt, errors.New("missing input"))
	}
	return []byte(v.String())
}

func moduleOutput(rt *goja.Runtime, data []byte, opts goja.Value) goja.Value {
	if obj, ok := opts.(*goja.Object); ok {
		switch strings.ToLower(propString(obj, "encoding")) {
		case "utf8", "utf-8":
			return rt.ToValue(string(data))
		case "base64":
			return rt.ToValue(base64.StdEncoding.EncodeToString(data))
		}
	}
	return rt.ToValue(rt.NewArrayBuffer(data))
}

// httpModule performs blocking requests through the SSRF-guarded client.
// get(url) and request({method, url, headers, body}) both return
// {statusCode, headers, body} with the body as text.
func httpModule(ctx context.Context, rt *goja.Runtime, e *Engine, scheme string) goja.Value {
	do := func(method, rawURL string, headers map[string]any, body string) map[string]any {
		if e.http == nil {
			throw(rt, errors.Newf("%s module is disabled", scheme))
		}
		u, err := e.http.ValidateURL(rawURL)
		if err != nil {
			throw(rt, err)
		}
		if u.Scheme != scheme {
			throw(rt, errors.Newf("%s module cannot fetch %s", scheme, u.Scheme))
		}
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			throw(rt, err)
		}
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
		resp, err := e.http.Do(req)
		if err != nil {
			throw(rt, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleBody))
		if err != nil {
			throw(rt, err)
		}
		respHeaders := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			respHeaders[strings.ToLower(k)] = resp.Header.Get(k)
		}
		return map[string]any{
			"statusCode": resp.StatusCode,
			"headers":    respHeaders,
			"body":       string(data),
		}
	}

	obj := rt.NewObject()
	_ = obj.Set("get", func(rawURL string) map[string]any {
		return do(http.MethodGet, rawURL, nil, "")
	})
	_ = obj.Set("request", func(opts map[string]any) map[string]any {
		method, _ := opts["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		rawURL, _ := opts["url"].(string)
		headers, _ := opts["headers"].(map[string]any)
		body, _ := opts["body"].(string)
		return do(strings.ToUpper(method), rawURL, headers, body)
	})
	return obj
}
