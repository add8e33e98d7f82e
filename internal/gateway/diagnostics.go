package gateway

import (
	"html/template"
	"net/http"
	"time"
)

var diagnosticsTemplate = template.Must(template.New("diagnostics").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Gateway status</title>
    <meta http-equiv="refresh" content="5">
    <style>
        body { font-family: Arial, sans-serif; background: #111; color: #eee; padding: 20px; }
        h1 { color: #0ff; }
        table { border-collapse: collapse; width: 100%; margin-top: 20px; }
        td, th { border: 1px solid #444; padding: 8px; text-align: left; }
        tr:nth-child(even) { background: #222; }
        code { font-size: 12px; }
    </style>
</head>
<body>
    <h1>Gateway status</h1>
    <p><strong>Uptime:</strong> {{.Uptime}}</p>
    <p><strong>Connected clients:</strong> {{len .Connections}}</p>
    <p><strong>Messages in buffer:</strong> {{.BufferSize}} / {{.BufferCap}}</p>
    <h2>Clients</h2>
    <table>
        <tr><th>ID</th><th>User</th><th>Address</th><th>Connected</th></tr>
        {{- range .Connections}}
        <tr>
            <td>{{.ID}}</td>
            <td>{{if .UserID}}{{.Name}} <code>{{.UserID}}</code>{{else}}Anonymous{{end}}</td>
            <td>{{.Addr}}</td>
            <td>{{.ConnectedAt}}</td>
        </tr>
        {{- end}}
    </table>
</body>
</html>`))

type diagnosticsRow struct {
	ID          string
	UserID      string
	Name        string
	Addr        string
	ConnectedAt string
}

type diagnosticsView struct {
	Uptime      string
	BufferSize  int
	BufferCap   int
	Connections []diagnosticsRow
}

// Diagnostics renders uptime, connection count, buffer size and the table of
// connected identities. Values are HTML-escaped by the template.
func (h *Handlers) Diagnostics(w http.ResponseWriter, _ *http.Request) {
	stats := h.hub.Stats()

	view := diagnosticsView{
		Uptime:      stats.Uptime.Truncate(time.Second).String(),
		BufferSize:  stats.BufferSize,
		BufferCap:   stats.BufferCap,
		Connections: make([]diagnosticsRow, 0, len(stats.Connections)),
	}
	for _, conn := range stats.Connections {
		view.Connections = append(view.Connections, diagnosticsRow{
			ID:          conn.ID,
			UserID:      conn.UserID,
			Name:        conn.Name,
			Addr:        conn.Addr,
			ConnectedAt: conn.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := diagnosticsTemplate.Execute(w, view); err != nil {
		h.log.Error().Err(err).Msg("error rendering diagnostics page")
	}
}

// TestPageHandler serves an HTML page for trying the WebSocket endpoint by
// hand with a bearer token.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(testPage))
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Gateway WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .warning { color: #b8860b; }
    </style>
</head>
<body>
    <h1>Gateway WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Bearer token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const tokenInput = document.getElementById('tokenInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, className) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (className) { el.className = className; }
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showMessage(msg) {
            addLine('[' + (msg.userId || '?') + '] ' + msg.text);
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const url = scheme + location.host + '/ws?token=' + encodeURIComponent(tokenInput.value.trim());
            ws = new WebSocket(url);

            ws.onopen = function() {
                addLine('Connected to gateway');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                if (env.event === 'chat:init') {
                    (env.data || []).forEach(showMessage);
                } else if (env.event === 'chat:message') {
                    showMessage(env.data);
                } else if (env.event === 'chat:warning') {
                    addLine('Warning: ' + env.data.message, 'warning');
                } else {
                    addLine(env.event + ': ' + JSON.stringify(env.data));
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: 'chat:message', data: {text: text}}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
