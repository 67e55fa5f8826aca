package preview

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Detection Preview</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: sans-serif; background: #111; color: #eee; }
        .app { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        img { width: 100%; height: auto; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        td { padding: 4px 0; border-bottom: 1px solid #333; }
        .badge { font-size: 12px; padding: 2px 8px; border-radius: 4px; background: #333; }
        .badge.live { background: #1a7f37; }
    </style>
</head>
<body>
    <div class="app">
        <div class="panel">
            <h2>Live Feed <span class="badge" id="session-badge">no client</span></h2>
            <img id="stream" src="/stream" alt="Annotated detection stream">
        </div>
        <div class="panel">
            <h2>Latest Frame</h2>
            <div id="frame-info">waiting for frames...</div>
            <table id="counts"></table>
            <h2>Session</h2>
            <table id="session"></table>
        </div>
    </div>
    <script>
        const counts = document.getElementById('counts');
        const frameInfo = document.getElementById('frame-info');
        const events = new EventSource('/api/detections/stream');
        events.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            frameInfo.textContent = 'frame ' + ev.frame_number + ' - ' + ev.detections.length + ' detections';
            counts.innerHTML = '';
            Object.entries(ev.counts || {}).sort((a, b) => b[1] - a[1]).forEach(([name, n]) => {
                const row = counts.insertRow();
                row.insertCell().textContent = name;
                row.insertCell().textContent = n;
            });
        };

        async function refreshStatus() {
            try {
                const res = await fetch('/api/status');
                const st = await res.json();
                const badge = document.getElementById('session-badge');
                const sess = st.session;
                badge.textContent = sess && sess.active ? 'connected' : 'no client';
                badge.className = 'badge' + (sess && sess.active ? ' live' : '');
                const table = document.getElementById('session');
                table.innerHTML = '';
                const rows = [
                    ['remote', sess ? sess.remote_addr : '-'],
                    ['frames', sess ? sess.frames : 0],
                    ['fps', st.monitor.current_fps.toFixed(1)],
                    ['sessions', st.monitor.sessions_seen],
                ];
                rows.forEach(([k, v]) => {
                    const row = table.insertRow();
                    row.insertCell().textContent = k;
                    row.insertCell().textContent = v;
                });
            } catch (err) {
                console.warn('status refresh failed', err);
            }
        }
        setInterval(refreshStatus, 2000);
        refreshStatus();
    </script>
</body>
</html>
`
