package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"penalty": func(p int) string {
		switch {
		case p == -1:
			return "DNF"
		case p == -2:
			return "DNS"
		case p > 0:
			return fmt.Sprintf("+%d", p)
		}
		return "none"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Stackmat Terminal {{.Config.DeviceID}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
pre.lcd { background: #1d3b1d; color: #b8f5b8; padding: 8px 12px; display: inline-block; font-size: 1.2em; }
.UP, .connected { color: green; font-weight: bold; }
.DOWN, .disconnected { color: red; }
.UNKNOWN { color: orange; }
</style>
</head>
<body>
<h1>Stackmat Terminal {{.Config.DeviceID}}</h1>

<pre class="lcd">{{index .Display 0}}
{{index .Display 1}}</pre>

<h2>Session</h2>
<table>
<tr><th>Scene</th><td>{{.Session.SceneName}}</td></tr>
<tr><th>Competitor</th><td>{{if .Session.CompetitorDisplay}}{{.Session.CompetitorDisplay}} ({{.Session.CompetitorCardID}}){{else}}-{{end}}</td></tr>
<tr><th>Solve time</th><td>{{.Session.SolveTime}}ms</td></tr>
<tr><th>Penalty</th><td>{{penalty .Session.Penalty}}</td></tr>
<tr><th>Inspection</th><td>{{if .Session.UseInspection}}on{{else}}off{{end}}</td></tr>
<tr><th>Added</th><td>{{if .Session.Added}}yes{{else}}no{{end}}</td></tr>
{{if .Session.TestMode}}<tr><th>Test mode</th><td>yes</td></tr>{{end}}
{{if .Session.ErrorMsg}}<tr><th>Error</th><td>{{.Session.ErrorMsg}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Timer</th><td class="{{stateOrUnknown (printf "%s" .Timer)}}">{{stateOrUnknown (printf "%s" .Timer)}}</td></tr>
<tr><th>Server</th><td class="{{stateOrUnknown (printf "%s" .Server)}}">{{stateOrUnknown (printf "%s" .Server)}}</td></tr>
<tr><th>Backend</th><td>{{.Config.BackendURL}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Timer connected</th><td>{{.Counts.TimerUp}}</td></tr>
<tr><th>Timer disconnected</th><td>{{.Counts.TimerDown}}</td></tr>
<tr><th>Server connected</th><td>{{.Counts.ServerUp}}</td></tr>
<tr><th>Server disconnected</th><td>{{.Counts.ServerDown}}</td></tr>
<tr><th>Scene changes</th><td>{{.Counts.Scenes}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timer port</th><td>{{.Config.TimerPort}}</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
