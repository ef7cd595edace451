package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>FlareSense Fire Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg:#111418; --panel:#1c2128; --text:#e6edf3; --muted:#8b949e; --fire:#ff4d4f; --warn:#faad14; --ok:#52c41a; }
        body { margin:0; font-family:system-ui,sans-serif; background:var(--bg); color:var(--text); }
        .header { display:flex; justify-content:space-between; align-items:center; padding:12px 20px; }
        .title { font-size:20px; font-weight:600; }
        .grid { display:grid; grid-template-columns:2fr 1fr; gap:16px; padding:0 20px 20px; }
        .panel { background:var(--panel); border-radius:8px; padding:16px; }
        .badge { padding:4px 10px; border-radius:12px; font-size:13px; background:#30363d; }
        .badge.fire { background:var(--fire); }
        .badge.ok { background:var(--ok); }
        .list-item { display:flex; justify-content:space-between; padding:6px 0; border-bottom:1px solid #30363d; }
        .list-label { color:var(--muted); }
        button { background:#30363d; color:var(--text); border:0; padding:8px 14px; border-radius:6px; cursor:pointer; }
        #alert-log { max-height:200px; overflow:auto; font-size:13px; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">🔥 FlareSense Fire Monitor</div>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>

    <div class="grid">
        <div class="panel">
            <h2>Live Feed</h2>
            <img id="stream" src="/video_feed" alt="Live camera feed" style="width:100%;height:auto;background:#000;">
            <div style="margin-top:10px;display:flex;gap:8px;">
                <button type="button" id="btn-camera">Camera Off</button>
                <button type="button" id="btn-location">Share Location</button>
                <a href="/api/analytics/export"><button type="button">Export Report</button></a>
            </div>
        </div>

        <div class="panel">
            <h2>Status</h2>
            <div class="list-item"><span class="list-label">Message</span><span id="message">--</span></div>
            <div class="list-item"><span class="list-label">Severity</span><span id="severity">--</span></div>
            <div class="list-item"><span class="list-label">Confidence</span><span id="confidence">--</span></div>
            <div class="list-item"><span class="list-label">Fires</span><span id="count">--</span></div>
            <div class="list-item"><span class="list-label">Location</span><span id="location">--</span></div>
            <div class="list-item"><span class="list-label">Last detection</span><span id="last-detection">--</span></div>

            <h2>Alerts</h2>
            <div id="alert-log"></div>
        </div>
    </div>

    <script>
        let cameraActive = true;

        function render(status) {
            const badge = document.getElementById('status-badge');
            badge.textContent = status.detected ? 'FIRE' : 'Normal';
            badge.className = 'badge ' + (status.detected ? 'fire' : 'ok');
            document.getElementById('message').textContent = status.message;
            document.getElementById('severity').textContent = status.severity;
            document.getElementById('confidence').textContent = status.confidence.toFixed(2);
            document.getElementById('count').textContent = status.count;
            document.getElementById('location').textContent = status.location;
            document.getElementById('last-detection').textContent =
                status.timestamp ? new Date(status.timestamp * 1000).toLocaleString() : '--';
            cameraActive = status.camera_active;
            document.getElementById('btn-camera').textContent = cameraActive ? 'Camera Off' : 'Camera On';
        }

        function connectStatus() {
            const source = new EventSource('/api/status/stream');
            source.onmessage = (e) => render(JSON.parse(e.data));
            source.onerror = () => {
                source.close();
                setTimeout(connectStatus, 3000);
            };
        }

        async function postJSON(path, body) {
            const resp = await fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body),
            });
            return resp.json();
        }

        document.getElementById('btn-camera').onclick = async () => {
            const res = await postJSON('/api/camera/toggle', {active: !cameraActive});
            cameraActive = res.camera_active;
            document.getElementById('btn-camera').textContent = cameraActive ? 'Camera Off' : 'Camera On';
        };

        document.getElementById('btn-location').onclick = () => {
            navigator.geolocation.getCurrentPosition((pos) => {
                postJSON('/api/location', {lat: pos.coords.latitude, lon: pos.coords.longitude});
            });
        };

        async function connectAlerts() {
            const pc = new RTCPeerConnection({iceServers: [{urls: 'stun:stun.l.google.com:19302'}]});
            const channel = pc.createDataChannel('alerts');
            channel.onmessage = (e) => {
                const alert = JSON.parse(e.data);
                const line = document.createElement('div');
                line.textContent = new Date(alert.timestamp * 1000).toLocaleTimeString() +
                    ' ' + alert.severity + ' (' + alert.confidence.toFixed(2) + ') ' + alert.map_url;
                document.getElementById('alert-log').prepend(line);
            };
            await pc.setLocalDescription(await pc.createOffer());
            const resp = await fetch('/api/webrtc/offer', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(pc.localDescription),
            });
            if (resp.ok) {
                await pc.setRemoteDescription(await resp.json());
            }
        }

        fetch('/api/status').then((r) => r.json()).then(render);
        connectStatus();
        connectAlerts().catch((err) => console.warn('alerts channel unavailable', err));
    </script>
</body>
</html>
`
