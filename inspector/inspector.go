// Package inspector implements the optional CDT (Chrome DevTools Protocol)
// debug channel (spec §4.8): a WebSocket server that, on
// "Runtime.runIfWaitingForDebugger", synthesizes a JS bootstrap compiling
// the emitted Wasm bytes, binds a stubbed importObject, and calls main,
// then pauses until the attached debugger sends "Debugger.resume".
//
// This path must never run in production (spec §9 "Redesign flags" — it is
// a distinct code path gated behind Config.CDTPort, never reachable unless
// a caller explicitly opts in).
package inspector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tetraquery/wasmquery/wasmencode"
)

// Session is one query's debuggable module: the emitted bytes plus the host
// import names the synthesized bootstrap must stub out.
type Session struct {
	ModuleBytes []byte
	Imports     []wasmencode.Import
	CtxID       uint64
}

// Server speaks a minimal subset of the CDT JSON-RPC wire format over a
// single WebSocket connection per query (spec: "the driver blocks on
// incoming WebSocket frames and pumps the engine's foreground task queue
// until the debugger resumes").
type Server struct {
	Port   uint16
	Logger *zap.Logger

	upgrader websocket.Upgrader
}

// NewServer returns a Server for port; port should be Config.CDTPort
// (already checked >= 1024 by Config.InspectorEnabled). The Server does not
// listen itself: the caller owns the listener and hands each connection to
// ServeSession.
func NewServer(port uint16, logger *zap.Logger) *Server {
	return &Server{Port: port, Logger: logger}
}

// cdpMessage is an inbound CDT request: {"id":1,"method":"...","params":{}}.
type cdpMessage struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// cdpReply is an outbound CDT response or event.
type cdpReply struct {
	ID     int         `json:"id,omitempty"`
	Method string      `json:"method,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Params interface{} `json:"params,omitempty"`
}

// ServeSession blocks for the lifetime of one WebSocket connection, driving
// sess through the pause/resume protocol. The Engine Driver calls it once
// per query when Config.InspectorEnabled() is true, as a gate before it
// invokes main itself through wazero; the synthesized bootstrap is only
// sent to the debugger, never run by this server.
func (s *Server) ServeSession(ctx context.Context, w http.ResponseWriter, r *http.Request, sess Session) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("inspector: upgrade: %w", err)
	}
	defer conn.Close()

	resumed := make(chan struct{})
	for {
		var msg cdpMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil // peer closed the socket; nothing left to pump.
		}
		if s.Logger != nil {
			s.Logger.Debug("inspector message", zap.String("method", msg.Method))
		}
		switch msg.Method {
		case "Runtime.runIfWaitingForDebugger":
			if err := conn.WriteJSON(cdpReply{ID: msg.ID, Result: map[string]any{}}); err != nil {
				return err
			}
			bootstrap := SynthesizeBootstrap(sess)
			if err := conn.WriteJSON(cdpReply{
				Method: "Debugger.scriptParsed",
				Params: map[string]any{"scriptSource": bootstrap, "url": "wasmquery-inspector.js"},
			}); err != nil {
				return err
			}
		case "Debugger.resume":
			if err := conn.WriteJSON(cdpReply{ID: msg.ID, Result: map[string]any{}}); err != nil {
				return err
			}
			close(resumed)
			return nil
		default:
			if err := conn.WriteJSON(cdpReply{ID: msg.ID, Result: map[string]any{}}); err != nil {
				return err
			}
		}
	}
}

// SynthesizeBootstrap produces the JS snippet spec §4.8 describes: it
// compiles the emitted Wasm bytes, binds every host import to a stub that
// throws (host callbacks are not reachable from the debugger's own V8
// instance — only the guest's bounds/stack checks are exercised on this
// path), and calls main(ctx_id).
func SynthesizeBootstrap(sess Session) string {
	var stubs strings.Builder
	byModule := map[string][]string{}
	for _, imp := range sess.Imports {
		byModule[imp.Module] = append(byModule[imp.Module], imp.Name)
	}
	for mod, names := range byModule {
		fmt.Fprintf(&stubs, "  %s: {\n", jsKey(mod))
		for _, n := range names {
			fmt.Fprintf(&stubs, "    %s: () => { throw new Error('inspector: host call %s.%s is stubbed'); },\n", jsKey(n), mod, n)
		}
		stubs.WriteString("  },\n")
	}

	encoded := base64.StdEncoding.EncodeToString(sess.ModuleBytes)
	return fmt.Sprintf(`(() => {
  const bytes = Uint8Array.from(atob(%q), c => c.charCodeAt(0));
  const importObject = {
%s  };
  return WebAssembly.instantiate(bytes, importObject).then(({instance}) => {
    return instance.exports.main(%dn);
  });
})();`, encoded, stubs.String(), sess.CtxID)
}

func jsKey(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			b, _ := json.Marshal(s)
			return string(b)
		}
	}
	return s
}
