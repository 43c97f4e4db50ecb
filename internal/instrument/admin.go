package instrument

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/beamscan/internal/httputil"
	"github.com/banshee-data/beamscan/internal/monitoring"
)

var consoleTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html><head><title>beamscan controller</title></head>
<body>
<h1>Controller console</h1>
<form id="cmd" method="post" action="/debug/send-command-api">
  <input name="command" size="60" placeholder="MOVE theta 0.5">
  <button type="submit">Send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("/debug/tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
document.getElementById("cmd").onsubmit = async (e) => {
  e.preventDefault();
  await fetch(e.target.action, {method: "POST", body: new URLSearchParams(new FormData(e.target))});
  e.target.reset();
};
</script>
</body></html>
`))

// AttachAdminRoutes registers a console page, a command endpoint and a
// server-sent event tail of controller traffic under /debug/.
func (c *Controller[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("send-command", "send a command to the instrument controller", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := consoleTemplate.Execute(w, nil); err != nil {
			monitoring.Logf("render controller console: %v", err)
		}
	})
	debug.HandleSilentFunc("send-command-api", c.handleSendCommand)
	debug.HandleSilentFunc("tail", c.handleTail)
}

type commandResponse struct {
	Command string `json:"command"`
}

func (c *Controller[T]) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}
	switch err := c.SendCommand(command); {
	case errors.Is(err, ErrClosed):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, commandResponse{Command: command})
	}
}

// handleTail streams every controller line as a server-sent event until
// the client goes away or the controller closes.
func (c *Controller[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")

	id, lines := c.Subscribe()
	defer c.Unsubscribe(id)

	io.WriteString(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
