package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gbvm/basic/assemble"
	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/basic/rpc"
	"github.com/teranos/gbvm/basic/transpile"
	"github.com/teranos/gbvm/errors"
)

// testArtifact assembles body and maps every body line to its own number.
func testArtifact(t *testing.T, name, body string) *loader.Artifact {
	t.Helper()
	code := assemble.Assemble(body, assemble.Bindings{BotID: "bot", ScriptName: name})
	prog, err := loader.GojaCompiler{}.Compile(name, code)
	require.NoError(t, err)

	lines := transpile.LineMap{}
	for i := range strings.Split(body, "\n") {
		lines[assemble.HeaderLines+i+1] = i + 1
	}
	return &loader.Artifact{
		Name:        name,
		Code:        code,
		LineMap:     lines,
		Fingerprint: loader.Fingerprint(code),
		Program:     prog,
	}
}

type recordedCall struct {
	Op   string
	Args map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recorder) caller() rpc.Caller {
	return rpc.CallerFunc(func(ctx context.Context, op string, args map[string]any) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, recordedCall{Op: op, Args: args})
		if op == "getHear" {
			return "42", nil
		}
		return nil, nil
	})
}

func (r *recorder) recorded() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func newTestEngine(t *testing.T, rec *recorder) *Engine {
	set := rpc.Set{}
	if rec != nil {
		set[keywords.Dialog] = rec.caller()
	}
	return NewEngine(set, nil, zaptest.NewLogger(t).Sugar())
}

func TestEngineRunsFacadeCalls(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	a := testArtifact(t, "main", strings.Join([]string{
		`const age = await dialog.getHear({invocationId, kind: "integer"});`,
		`await dialog.talk({invocationId, text: "You are " + age});`,
		`return userId + ":" + age;`,
	}, "\n"))

	inv := NewInvocation(Session{BotID: "bot", UserID: "u1"})
	v, err := e.Run(context.Background(), a, inv)
	require.NoError(t, err)
	assert.Equal(t, "u1:42", v)

	calls := rec.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "getHear", calls[0].Op)
	assert.Equal(t, "integer", calls[0].Args["kind"])
	assert.EqualValues(t, inv.PID, calls[0].Args["invocationId"])
	assert.Equal(t, "talk", calls[1].Op)
	assert.Equal(t, "You are 42", calls[1].Args["text"])
}

func TestEngineFacadeErrorFailsScript(t *testing.T) {
	set := rpc.Set{keywords.Dialog: rpc.CallerFunc(func(context.Context, string, map[string]any) (any, error) {
		return nil, fmt.Errorf("channel closed")
	})}
	e := NewEngine(set, nil, zaptest.NewLogger(t).Sugar())
	a := testArtifact(t, "main", `await dialog.talk({invocationId, text: "hi"});`)

	_, err := e.Run(context.Background(), a, NewInvocation(Session{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrScriptRuntime))
	assert.Contains(t, err.Error(), "channel closed")
}

func TestEngineUnconfiguredFacade(t *testing.T) {
	e := newTestEngine(t, nil)
	a := testArtifact(t, "main", `await system.wait({invocationId, seconds: 1});`)

	_, err := e.Run(context.Background(), a, NewInvocation(Session{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system façade is not configured")
}

func TestEngineBindsEntities(t *testing.T) {
	e := newTestEngine(t, &recorder{})
	a := testArtifact(t, "main", `return city + "/" + typeof require;`)

	inv := NewInvocation(Session{Entities: map[string]any{
		"city":    "Lisbon",
		"require": "shadowed",
	}})
	v, err := e.Run(context.Background(), a, inv)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon/function", v)
}

func TestEngineSessionBindings(t *testing.T) {
	e := newTestEngine(t, &recorder{})
	a := testArtifact(t, "main", `return [botId, scriptName, locale, headers.channel].join(",");`)

	inv := NewInvocation(Session{Locale: "pt", Headers: map[string]any{"channel": "web"}})
	v, err := e.Run(context.Background(), a, inv)
	require.NoError(t, err)
	assert.Equal(t, "bot,main,pt,web", v)
}

func TestEngineRequireAllowList(t *testing.T) {
	e := newTestEngine(t, &recorder{})

	t.Run("url", func(t *testing.T) {
		a := testArtifact(t, "main", `return require("node:url").parse("https://example.com/a?b=1").query.b;`)
		v, err := e.Run(context.Background(), a, NewInvocation(Session{}))
		require.NoError(t, err)
		assert.Equal(t, "1", v)
	})

	t.Run("zlib round trip", func(t *testing.T) {
		a := testArtifact(t, "main", strings.Join([]string{
			`const zlib = require("zlib");`,
			`const packed = zlib.gzipSync("hello hello hello");`,
			`return zlib.gunzipSync(packed, {encoding: "utf8"});`,
		}, "\n"))
		v, err := e.Run(context.Background(), a, NewInvocation(Session{}))
		require.NoError(t, err)
		assert.Equal(t, "hello hello hello", v)
	})

	t.Run("fs rejected", func(t *testing.T) {
		a := testArtifact(t, "main", `return require("fs").readFileSync("/etc/passwd");`)
		_, err := e.Run(context.Background(), a, NewInvocation(Session{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `module "fs" is not available`)
	})

	t.Run("http disabled", func(t *testing.T) {
		a := testArtifact(t, "main", `return require("http").get("http://example.com/");`)
		_, err := e.Run(context.Background(), a, NewInvocation(Session{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http module is disabled")
	})
}

func TestEngineMapsFailureLine(t *testing.T) {
	e := newTestEngine(t, &recorder{})
	a := testArtifact(t, "main", strings.Join([]string{
		`await dialog.talk({invocationId, text: "before"});`,
		`x = undefinedVar + 1;`,
		`await dialog.talk({invocationId, text: "after"});`,
	}, "\n"))

	_, err := e.Run(context.Background(), a, NewInvocation(Session{}))
	require.Error(t, err)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, 2, f.Line)
	assert.Contains(t, f.Message, "undefinedVar")
	assert.True(t, strings.HasPrefix(err.Error(), FailurePrefix))
	assert.Contains(t, err.Error(), "(main line 2)")
	assert.False(t, IsResourceLimit(err))
}

func TestEngineSelectCaseRunsOneArm(t *testing.T) {
	tr := transpile.New(keywords.Default(), transpile.Options{}, zaptest.NewLogger(t).Sugar())

	tests := []struct {
		value string
		want  string
	}{
		{"1", "one"},
		{"3", "two or three"},
		{"9", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			res, err := tr.Transpile(context.Background(), "main", strings.Join([]string{
				"x = " + tt.value,
				"select case x",
				"case 1",
				`talk "one"`,
				"case 2, 3",
				`talk "two or three"`,
				"case else",
				`talk "other"`,
				"end select",
			}, "\n"))
			require.NoError(t, err)

			rec := &recorder{}
			_, err = newTestEngine(t, rec).Run(context.Background(), testArtifact(t, "main", res.Code), NewInvocation(Session{}))
			require.NoError(t, err)

			calls := rec.recorded()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Args["text"])
		})
	}
}

func TestEngineCancelInterrupts(t *testing.T) {
	e := newTestEngine(t, &recorder{})
	a := testArtifact(t, "main", `while (true) {}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, a, NewInvocation(Session{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script interrupted")
}

func TestEngineRejectsArtifactWithoutProgram(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Run(context.Background(), &loader.Artifact{Name: "main"}, NewInvocation(Session{}))
	assert.True(t, errors.Is(err, errors.ErrNoArtifact))
}
