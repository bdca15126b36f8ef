package inspector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraquery/wasmquery/wasmencode"
)

func TestServer_RunIfWaitingForDebuggerThenResume(t *testing.T) {
	s := NewServer(9222, nil)
	sess := Session{
		ModuleBytes: []byte{0x00, 0x61, 0x73, 0x6d},
		Imports:     []wasmencode.Import{{Module: "env", Name: "read_result_set"}},
		CtxID:       7,
	}

	done := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done <- s.ServeSession(context.Background(), w, r, sess)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "method": "Runtime.runIfWaitingForDebugger"}))

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.EqualValues(t, 1, ack["id"])

	var scriptParsed map[string]any
	require.NoError(t, conn.ReadJSON(&scriptParsed))
	assert.Equal(t, "Debugger.scriptParsed", scriptParsed["method"])
	params := scriptParsed["params"].(map[string]any)
	src := params["scriptSource"].(string)
	assert.Contains(t, src, "WebAssembly.instantiate")
	assert.Contains(t, src, "read_result_set")
	assert.Contains(t, src, "instance.exports.main(7n)")

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 2, "method": "Debugger.resume"}))
	require.NoError(t, <-done)
}

func TestSynthesizeBootstrap_StubsEveryImport(t *testing.T) {
	src := SynthesizeBootstrap(Session{
		ModuleBytes: []byte{1, 2, 3},
		Imports: []wasmencode.Import{
			{Module: "env", Name: "print"},
			{Module: "env", Name: "insist"},
		},
		CtxID: 0,
	})
	assert.Contains(t, src, "print: () => { throw new Error('inspector: host call env.print is stubbed'); }")
	assert.Contains(t, src, "insist: () => { throw new Error('inspector: host call env.insist is stubbed'); }")
	assert.Contains(t, src, "instance.exports.main(0n)")
}
