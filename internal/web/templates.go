package web

// dashboardHTML is the embedded single-page dashboard served at /.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>longhaul</title>
<style>
:root {
  --bg: #0f1117;
  --surface: #1a1d27;
  --border: #2a2d3a;
  --text: #e2e8f0;
  --muted: #718096;
  --green: #48bb78;
  --red: #fc8181;
  --yellow: #f6e05e;
  --cyan: #63b3ed;
  --gray: #a0aec0;
  --font: "SF Mono", "Cascadia Code", "Fira Code", "Consolas", monospace;
}
@media (prefers-color-scheme: light) {
  :root {
    --bg: #f7fafc;
    --surface: #ffffff;
    --border: #e2e8f0;
    --text: #1a202c;
    --muted: #718096;
    --green: #276749;
    --red: #c53030;
    --yellow: #975a16;
    --cyan: #2b6cb0;
    --gray: #4a5568;
  }
}
* { box-sizing: border-box; margin: 0; padding: 0; }
body {
  background: var(--bg);
  color: var(--text);
  font-family: var(--font);
  font-size: 13px;
  min-height: 100vh;
  display: flex;
  flex-direction: column;
}
header {
  display: flex;
  align-items: center;
  gap: 12px;
  padding: 12px 16px 0 16px;
}
header h1 {
  font-size: 16px;
  font-weight: 600;
  letter-spacing: 0.05em;
}
#status-dot {
  width: 8px;
  height: 8px;
  border-radius: 50%;
  background: var(--muted);
  transition: background 0.3s;
}
#status-dot.live { background: var(--green); }
#repo { color: var(--muted); font-size: 12px; }
nav.tabs {
  display: flex;
  gap: 0;
  padding: 10px 16px 0 16px;
  border-bottom: 1px solid var(--border);
}
nav.tabs button {
  background: none;
  border: none;
  border-bottom: 2px solid transparent;
  color: var(--muted);
  font-family: var(--font);
  font-size: 13px;
  padding: 6px 16px 8px 16px;
  cursor: pointer;
  transition: color 0.15s, border-color 0.15s;
  margin-bottom: -1px;
}
nav.tabs button:hover { color: var(--text); }
nav.tabs button.active {
  color: var(--text);
  border-bottom-color: var(--cyan);
  font-weight: 600;
}
main {
  flex: 1;
  padding: 16px;
  overflow: auto;
}
[hidden] { display: none !important; }
#session-card, #summary {
  font-size: 12px;
  margin-bottom: 16px;
  padding: 8px 12px;
  background: var(--surface);
  border: 1px solid var(--border);
  border-radius: 6px;
}
#session-card span, #summary span { margin-right: 12px; }
.badge {
  font-size: 11px;
  padding: 2px 8px;
  border-radius: 4px;
  border: 1px solid var(--border);
}
.badge.running    { color: var(--cyan); }
.badge.paused     { color: var(--yellow); }
.badge.terminated { color: var(--gray); }
.badge.needs_restart { color: var(--red); }
.item-table {
  width: 100%;
  border-collapse: collapse;
  background: var(--surface);
  border: 1px solid var(--border);
  border-radius: 8px;
  overflow: hidden;
}
.item-table th {
  text-align: left;
  padding: 6px 14px;
  font-size: 11px;
  color: var(--muted);
  border-bottom: 1px solid var(--border);
  font-weight: 500;
  text-transform: uppercase;
  letter-spacing: 0.05em;
}
.item-table td {
  padding: 7px 14px;
  border-bottom: 1px solid var(--border);
  vertical-align: middle;
}
.item-table tr:last-child td { border-bottom: none; }
.item-table tr:hover td { background: var(--border); }
.sym { font-size: 14px; width: 20px; text-align: center; }
.sym.done          { color: var(--green); }
.sym.in-progress   { color: var(--cyan); }
.sym.blocked       { color: var(--red); }
.sym.backlog       { color: var(--gray); }
.item-id    { color: var(--muted); font-size: 11px; }
.item-title { max-width: 320px; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
.prio.critical { color: var(--red); }
.prio.high     { color: var(--yellow); }
.prio.medium   { color: var(--cyan); }
.prio.low      { color: var(--gray); }
.no-items { padding: 10px 14px; color: var(--muted); font-size: 12px; }
#updated { font-size: 11px; color: var(--muted); margin-top: 12px; text-align: right; }
#log-viewer {
  background: var(--surface);
  border: 1px solid var(--border);
  border-radius: 6px;
  padding: 10px 12px;
  height: calc(100vh - 160px);
  overflow-y: auto;
  font-size: 12px;
  line-height: 1.5;
  white-space: pre-wrap;
  word-break: break-all;
}
</style>
</head>
<body>
<header>
  <div id="status-dot"></div>
  <h1>longhaul</h1>
  <span id="repo"></span>
</header>
<nav class="tabs">
  <button data-tab="status" class="active">Status</button>
  <button data-tab="logs">Logs</button>
</nav>
<main>
  <div id="tab-status">
    <div id="session-card">Loading...</div>
    <div id="summary"></div>
    <div id="backlog"></div>
    <div id="updated"></div>
  </div>
  <div id="tab-logs" hidden>
    <div id="log-viewer"></div>
  </div>
</main>

<script>
// ── Tab switching ────────────────────────────────────────────────────────────
const tabBtns = document.querySelectorAll('nav.tabs button');
const tabPanes = {
  status: document.getElementById('tab-status'),
  logs:   document.getElementById('tab-logs'),
};

tabBtns.forEach(function(btn) {
  btn.addEventListener('click', function() {
    const name = btn.getAttribute('data-tab');
    tabBtns.forEach(function(b) {
      b.classList.toggle('active', b === btn);
    });
    Object.keys(tabPanes).forEach(function(k) {
      tabPanes[k].hidden = (k !== name);
    });
  });
});

function esc(s) {
  return String(s)
    .replace(/&/g,'&amp;')
    .replace(/</g,'&lt;')
    .replace(/>/g,'&gt;')
    .replace(/"/g,'&quot;');
}

// ── Status tab ───────────────────────────────────────────────────────────────
const symbols = {
  'done':        '✓',
  'in-progress': '↻',
  'blocked':     '✗',
  'backlog':     '○',
};

function renderSession(data) {
  const card = document.getElementById('session-card');
  const st = data.session;
  if (!st) {
    card.innerHTML = '<span style="color:var(--muted)">no session yet</span>' +
      ' <span class="badge">desired: ' + esc(data.desired_state || '') + '</span>';
    return;
  }
  let html = '<span class="badge ' + esc(st.status) + '">' + esc(st.status) + '</span>' +
    '<span>' + esc(st.session_id) + '</span>' +
    '<span class="badge">desired: ' + esc(data.desired_state || '') + '</span>';
  if (data.current_item) {
    html += '<span>working on #' + data.current_item.issue + ' ' + esc(data.current_item.title) + '</span>';
  }
  if (st.restart_count > 0) {
    html += '<span style="color:var(--yellow)">restarts: ' + st.restart_count + '</span>';
  }
  if (data.queued_commits > 0) {
    html += '<span>' + data.queued_commits + ' commits awaiting announcement</span>';
  }
  card.innerHTML = html;
}

function renderSummary(data) {
  const s = data.summary || {};
  const order = ['in-progress','blocked','backlog','done'];
  const parts = order
    .filter(function(k) { return s[k] > 0; })
    .map(function(k) { return '<span><b>' + s[k] + '</b> ' + esc(k) + '</span>'; });
  document.getElementById('summary').innerHTML =
    parts.length ? parts.join('')
                 : '<span style="color:var(--muted)">backlog empty</span>';
}

function renderBacklog(data) {
  const container = document.getElementById('backlog');
  const items = data.backlog || [];
  if (items.length === 0) {
    container.innerHTML = '<div class="no-items">No backlog items.</div>';
    return;
  }
  const rows = items.map(function(it) {
    const sym = symbols[it.status] || '?';
    return '<tr>' +
      '<td class="sym ' + esc(it.status) + '">' + esc(sym) + '</td>' +
      '<td class="item-id">#' + it.issue + '</td>' +
      '<td class="item-title">' + esc(it.title) + '</td>' +
      '<td class="prio ' + esc(it.priority) + '">' + esc(it.priority) + '</td>' +
      '<td>' + it.votes + '</td>' +
      '<td>' + esc(it.status) + '</td>' +
      '</tr>';
  }).join('');
  container.innerHTML = '<table class="item-table">' +
    '<thead><tr><th></th><th>Issue</th><th>Title</th><th>Priority</th><th>Votes</th><th>Status</th></tr></thead>' +
    '<tbody>' + rows + '</tbody>' +
    '</table>';
}

function render(data) {
  document.getElementById('repo').textContent = data.repo || '';
  renderSession(data);
  renderSummary(data);
  renderBacklog(data);
  document.getElementById('status-dot').classList.add('live');
  const d = new Date(data.updated_at * 1000);
  document.getElementById('updated').textContent =
    'Updated: ' + d.toLocaleTimeString();
}

function poll() {
  fetch('/api/status')
    .then(function(r) { return r.json(); })
    .then(render)
    .catch(function() {
      document.getElementById('status-dot').classList.remove('live');
    });
}
poll();
setInterval(poll, 5000);

// ── Logs tab ─────────────────────────────────────────────────────────────────
const logViewer = document.getElementById('log-viewer');
let userScrolledUp = false;

logViewer.addEventListener('scroll', function() {
  const atBottom = logViewer.scrollHeight - logViewer.scrollTop <= logViewer.clientHeight + 4;
  userScrolledUp = !atBottom;
});

function pollLogs() {
  fetch('/api/logs')
    .then(function(r) { return r.json(); })
    .then(function(lines) {
      if (!Array.isArray(lines)) return;
      logViewer.textContent = lines.join('\n');
      if (!userScrolledUp) {
        logViewer.scrollTop = logViewer.scrollHeight;
      }
    })
    .catch(function() {});
}
pollLogs();
setInterval(pollLogs, 5000);
</script>
</body>
</html>`
