package server

import "net/http"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Live Detection</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #0f1115; color: #e6e6e6; }
        .app { max-width: 1280px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 12px; }
        .title { font-size: 20px; font-weight: 600; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 12px; }
        .panel { background: #181b22; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 15px; }
        .badge { padding: 3px 10px; border-radius: 12px; font-size: 12px; background: #444; }
        .badge.online { background: #1f7a3a; }
        .badge.offline { background: #a12d2d; }
        .badge.checking { background: #8a6d1f; }
        .advisory { color: #f0b429; min-height: 1.2em; font-size: 13px; }
        .row { display: flex; gap: 8px; align-items: center; margin-bottom: 8px; flex-wrap: wrap; }
        .btn { border: 0; border-radius: 6px; padding: 6px 12px; cursor: pointer; color: #fff; background: #2d6cdf; }
        .btn.stop { background: #a12d2d; }
        .btn.muted { background: #444; }
        input[type=text] { flex: 1; min-width: 180px; background: #0f1115; color: #e6e6e6; border: 1px solid #333; border-radius: 6px; padding: 6px; }
        #stream { width: 100%; height: auto; display: block; background: #000; }
        .list { max-height: 420px; overflow-y: auto; font-size: 13px; }
        .item { display: flex; justify-content: space-between; padding: 4px 0; border-bottom: 1px solid #262a33; }
        .bar { height: 6px; background: #00ff00; border-radius: 3px; }
        .muted { color: #888; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Live Detection</div>
            <span class="badge checking" id="health-badge">checking</span>
        </div>
        <div class="grid">
            <div class="panel">
                <div class="row">
                    <button class="btn" id="start-btn">Start</button>
                    <button class="btn stop" id="stop-btn">Stop</button>
                    <label><input type="checkbox" id="persist"> Persist results</label>
                </div>
                <div class="advisory" id="advisory"></div>
                <img id="stream" src="/stream" alt="Live view">
            </div>
            <div>
                <div class="panel">
                    <h2>Detection service</h2>
                    <div class="row">
                        <input type="text" id="base-url" placeholder="http://localhost:3000">
                        <button class="btn muted" id="save-url">Save</button>
                    </div>
                    <div class="muted" id="health-detail"></div>
                </div>
                <div class="panel" style="margin-top:12px;">
                    <div class="row" style="justify-content:space-between;">
                        <h2>Analytics</h2>
                        <button class="btn muted" id="dismiss">Dismiss</button>
                    </div>
                    <div id="analytics"><p class="muted">No detections yet.</p></div>
                </div>
                <div class="panel" style="margin-top:12px;">
                    <h2>Recent detections</h2>
                    <div class="list" id="history"></div>
                </div>
            </div>
        </div>
    </div>
    <script>
        const $ = (id) => document.getElementById(id);

        async function api(method, path, body) {
            const opts = { method, headers: { 'Content-Type': 'application/json' } };
            if (body !== undefined) opts.body = JSON.stringify(body);
            const res = await fetch(path, opts);
            return res.json();
        }

        function renderHealth(h) {
            const badge = $('health-badge');
            badge.textContent = h.status;
            badge.className = 'badge ' + h.status;
            $('health-detail').textContent = h.last_error || '';
        }

        function renderStatus(s) {
            renderHealth(s.health);
            $('advisory').textContent = s.advisory || '';
            $('persist').checked = s.persist;
            $('start-btn').disabled = s.active;
            $('stop-btn').disabled = !s.active;
            if (document.activeElement !== $('base-url')) $('base-url').value = s.base_url;
        }

        function renderHistory(entries) {
            const list = $('history');
            list.innerHTML = '';
            for (const e of entries) {
                const row = document.createElement('div');
                row.className = 'item';
                const plate = e.plate ? ' [' + e.plate + ']' : '';
                row.innerHTML = '<span>' + e.label + plate + '</span><span class="muted">' +
                    (e.confidence * 100).toFixed(1) + '% ' + new Date(e.captured_at).toLocaleTimeString() + '</span>';
                list.appendChild(row);
            }
        }

        function renderAnalytics(summary) {
            const el = $('analytics');
            if (!summary) {
                el.innerHTML = '<p class="muted">No detections yet.</p>';
                return;
            }
            let html = '<p>' + summary.total + ' detections, ' + summary.distinct_classes +
                ' classes, avg ' + summary.avg_confidence.toFixed(1) + '%</p>';
            for (const c of summary.top_classes) {
                html += '<div class="item"><span>' + c.label + '</span><span>' + c.count +
                    ' (' + c.share.toFixed(1) + '%)</span></div>' +
                    '<div class="bar" style="width:' + c.relative + '%"></div>';
            }
            el.innerHTML = html;
        }

        async function refresh() {
            renderStatus(await api('GET', '/api/status'));
            renderHistory((await api('GET', '/api/detections')).detections);
        }

        $('start-btn').onclick = async () => renderStatus(await api('POST', '/api/capture/start', { persist: $('persist').checked }));
        $('stop-btn').onclick = async () => renderStatus(await api('POST', '/api/capture/stop'));
        $('save-url').onclick = async () => {
            const cfg = await api('PUT', '/api/config', { base_url: $('base-url').value });
            $('base-url').value = cfg.base_url;
            renderHealth(cfg.health);
        };
        $('dismiss').onclick = () => api('DELETE', '/api/analytics');

        const detections = new EventSource('/api/detections/stream');
        detections.onmessage = () => refresh();

        const analytics = new EventSource('/api/analytics/stream');
        analytics.onmessage = (ev) => renderAnalytics(JSON.parse(ev.data).summary);

        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>
`
