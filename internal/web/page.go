package web

import (
	"html/template"

	"github.com/scheerer/ambilamp/internal/ambilight"
	"github.com/scheerer/ambilamp/internal/screen"
)

type pageData struct {
	Monitors        []screen.Monitor
	MonitorIndex    int
	IntervalSeconds float64
	BrightnessStep  int
	MinBrightness   int
	SaturationBoost float64
	Status          ambilight.Status
	Message         string
	MessageType     string
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Ambilight lamp</title>
<style>
body { font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
.container { background: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
h2 { color: #333; margin-top: 0; }
.form-group { margin-bottom: 20px; }
label { display: block; margin-bottom: 5px; font-weight: bold; }
input, select { width: 100%; padding: 10px; border: 1px solid #ddd; border-radius: 5px; box-sizing: border-box; }
button { background: #007cba; color: white; padding: 12px 24px; border: none; border-radius: 5px; cursor: pointer; font-size: 16px; }
.stop-btn { background: #d9534f; }
.status { padding: 10px; border-radius: 5px; margin: 20px 0; text-align: center; }
.success { background: #dff0d8; color: #3c763d; }
.error { background: #f2dede; color: #a94442; }
.info { background: #f0f8ff; padding: 10px; border-radius: 5px; font-size: 14px; margin: 10px 0; }
</style>
</head>
<body>
<div class="container">
<h2>Ambilight lamp</h2>

{{if .Message}}
<div class="status {{if eq .MessageType "success"}}success{{else}}error{{end}}">{{.Message}}</div>
{{end}}

<div class="info" id="loop-status">
<strong>Loop:</strong> <span id="loop-state">{{.Status.State}}</span>
{{with .Status}}{{if not .Time.IsZero}}
&middot; lamp <span id="loop-command">{{.Command}}</span>
{{if .Error}}&middot; <span class="error">{{.Error}}</span>{{end}}
{{end}}{{end}}
</div>

<div class="info">
<strong>Available monitors:</strong><br>
{{range .Monitors}}{{.Index}}: {{.Width}}x{{.Height}} {{if .Combined}}(all monitors){{end}}<br>{{end}}
</div>

<form method="post" action="/update">
<div class="form-group">
<label for="monitor_number">Monitor:</label>
<select id="monitor_number" name="monitor_number">
{{$selected := .MonitorIndex}}
{{range .Monitors}}<option value="{{.Index}}" {{if eq .Index $selected}}selected{{end}}>Monitor {{.Index}} ({{.Width}}x{{.Height}})</option>
{{end}}
</select>
</div>
<div class="form-group">
<label for="update_interval">Update interval (seconds):</label>
<input type="number" step="0.1" min="0.1" max="5" id="update_interval" name="update_interval" value="{{.IntervalSeconds}}">
</div>
<div class="form-group">
<label for="brightness_step">Brightness step (%):</label>
<input type="number" min="1" max="20" id="brightness_step" name="brightness_step" value="{{.BrightnessStep}}">
</div>
<div class="form-group">
<label for="min_brightness">Minimum brightness (switch off below):</label>
<input type="number" min="0" max="50" id="min_brightness" name="min_brightness" value="{{.MinBrightness}}">
</div>
<div class="form-group">
<label for="saturation_boost">Saturation boost (1.0 = unchanged):</label>
<input type="number" step="0.1" min="0.5" max="3.0" id="saturation_boost" name="saturation_boost" value="{{.SaturationBoost}}">
</div>
<button type="submit">Save settings</button>
</form>

<hr>

<form method="post" action="/stop" onsubmit="return confirm('Stop lamp control?')">
<button type="submit" class="stop-btn">Stop</button>
</form>
<form method="post" action="/start" style="margin-top: 10px;">
<button type="submit">Start</button>
</form>
</div>
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function (msg) {
    var evt = JSON.parse(msg.data);
    if (evt.type !== "status") { return; }
    document.getElementById("loop-state").textContent = evt.payload.state;
  };
})();
</script>
</body>
</html>
`))
