package sandbox

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gbvm/errors"
)

func TestServeWorkerRoundTrip(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- ServeWorker(context.Background(), reqR, respW, e, zaptest.NewLogger(t).Sugar())
		respW.Close()
	}()

	enc := newEncoder(reqW)
	dec := newDecoder(respR)
	call := func(seq uint64, name, body string) *Response {
		a := testArtifact(t, name, body)
		require.NoError(t, enc.Encode(&Request{
			Seq:         seq,
			Script:      a.Name,
			Code:        a.Code,
			Fingerprint: a.Fingerprint,
			LineMap:     a.LineMap,
			Invocation:  NewInvocation(Session{BotID: "bot", UserID: "u1", Locale: "pt"}),
		}))
		var resp Response
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, seq, resp.Seq)
		return &resp
	}

	resp := call(1, "main", `await dialog.talk({invocationId, text: "hi"}); return userId + "@" + locale;`)
	require.Nil(t, resp.Failure)
	assert.Equal(t, "u1@pt", resp.Value)
	require.Len(t, rec.recorded(), 1)

	resp = call(2, "broken", strings.Join([]string{
		`await dialog.talk({invocationId, text: "first"});`,
		`missing();`,
	}, "\n"))
	require.NotNil(t, resp.Failure)
	assert.Equal(t, 2, resp.Failure.Line)
	assert.Equal(t, "broken", resp.Failure.Script)
	assert.True(t, errors.Is(resp.Failure, errors.ErrScriptRuntime))

	require.NoError(t, reqW.Close())
	assert.NoError(t, <-served)
}

func TestServeWorkerRejectsGarbage(t *testing.T) {
	e := newTestEngine(t, nil)
	err := ServeWorker(context.Background(), strings.NewReader("\xff\xff\xff"), io.Discard, e, nil)
	assert.Error(t, err)
}

func TestInProcessWorkerKill(t *testing.T) {
	w, err := InProcessLauncher{Engine: newTestEngine(t, nil)}.Launch(context.Background(), PoolKey{BotID: "bot"})
	require.NoError(t, err)
	require.NoError(t, w.Kill())

	_, err = w.Run(context.Background(), &Request{Script: "main"})
	assert.Error(t, err)
}

func TestInProcessLauncherNeedsEngine(t *testing.T) {
	_, err := InProcessLauncher{}.Launch(context.Background(), PoolKey{})
	assert.Error(t, err)
}
