package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/geckobuddy/enclosure-controller/internal/status"
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
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"local": func(t time.Time, offsetMinutes int) string {
		if t.IsZero() {
			return "-"
		}
		return t.In(time.FixedZone("local", offsetMinutes*60)).Format("15:04:05")
	},
	"relay": status.RelayString,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Enclosure Controller</title>
<style>
body { font-family: system-ui, sans-serif; background: #f6f4ee; color: #222; max-width: 640px; margin: 1.5em auto; padding: 0 1em; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1em; text-transform: uppercase; letter-spacing: 0.05em; color: #666; margin: 1.4em 0 0.3em; }
table { border-collapse: collapse; width: 100%; background: #fff; }
th, td { text-align: left; padding: 5px 10px; border-bottom: 1px solid #e4e0d6; }
th { font-weight: normal; color: #555; width: 45%; }
.on, .connected { color: #2a7a2a; font-weight: bold; }
.off { color: #999; }
.unknown { color: #c77800; }
.disconnected, .fault { color: #b22; font-weight: bold; }
</style>
</head>
<body>
<h1>Enclosure Controller</h1>
{{if .Fault}}<p class="fault">{{.Fault}}</p>{{end}}

<h2>Climate</h2>
<table>
<tr><th>Temperature</th><td>{{if .HasReading}}{{printf "%.2f" .Reading.TemperatureF}} °F{{else}}<span class="unknown">UNKNOWN</span>{{end}}</td></tr>
<tr><th>Humidity</th><td>{{if .HasReading}}{{printf "%.2f" .Reading.HumidityPct}} %{{else}}<span class="unknown">UNKNOWN</span>{{end}}</td></tr>
<tr><th>Setpoint</th><td>{{printf "%.1f" .Setpoint.ActiveValue}} °F ({{orUnknown (printf "%s" .Setpoint.Source)}})</td></tr>
<tr><th>Heat lamp</th><td class="{{if .Relay.RelayOn}}on{{else}}off{{end}}">{{relay .Relay.RelayOn}}</td></tr>
</table>

<h2>Lighting</h2>
<table>
<tr><th>Phase</th><td>{{orUnknown (printf "%s" .Lighting.Phase)}}</td></tr>
<tr><th>Brightness</th><td>{{.Lighting.Brightness}}/255</td></tr>
<tr><th>Sunrise</th><td>{{local .Solar.SunriseUTC .Solar.UTCOffsetMinutes}}{{if .SolarFallback}} (fallback){{end}}</td></tr>
<tr><th>Sunset</th><td>{{local .Solar.SunsetUTC .Solar.UTCOffsetMinutes}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Link</th><td class="{{if eq (printf "%s" .Link.Phase) "CONNECTED"}}connected{{else}}disconnected{{end}}">{{orUnknown (printf "%s" .Link.Phase)}}</td></tr>
{{if .Link.BackoffSeconds}}<tr><th>Retry in</th><td>{{.Link.BackoffSeconds}}s</td></tr>{{end}}
<tr><th>Telemetry</th><td>{{.Config.Transport}} {{.Config.Endpoint}}</td></tr>
<tr><th>Sent / failed / dropped</th><td>{{.Telemetry.Sent}} / {{.Telemetry.Failed}} / {{.Telemetry.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Boot</th><td>{{.Config.BootID}}</td></tr>
<tr><th>Deadband</th><td>{{.Config.Deadband}} °F</td></tr>
<tr><th>Watchdog</th><td>{{.Config.WatchdogDevice}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has methods but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		HasReading bool
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		HasReading: !snap.Reading.ValidatedAt.IsZero(),
	}
	return indexTmpl.Execute(w, data)
}
