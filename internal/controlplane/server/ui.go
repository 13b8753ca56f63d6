package server

import (
	"net/http"
)

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(uiHTML))
}

const uiHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>updown bot</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; margin: 0; }
    .wrap { display: grid; grid-template-columns: 420px 1fr; height: 100vh; }
    .left { border-right: 1px solid #eee; padding: 12px; overflow:auto; }
    .right { padding: 12px; overflow:auto; }
    pre { background:#0b1020; color:#d6e2ff; padding:12px; border-radius:8px; overflow:auto; min-height: 220px; }
    button { margin-right: 8px; }
    table { border-collapse: collapse; width: 100%; font-size: 13px; }
    td, th { border-bottom: 1px solid #eee; padding: 4px 6px; text-align: left; }
    .row { display:flex; gap: 8px; align-items:center; flex-wrap: wrap; }
    .muted { color:#666; font-size: 12px; }
    .win { color:#0a7d32; } .loss { color:#c0262d; }
  </style>
</head>
<body>
<div class="wrap">
  <div class="left">
    <div class="row">
      <h3 style="margin:0">状态</h3>
      <button onclick="reloadStatus()">刷新</button>
      <button onclick="setHalt(true)">暂停入场</button>
      <button onclick="setHalt(false)">恢复入场</button>
    </div>
    <div id="status" class="muted"></div>
    <h4>持仓记录</h4>
    <div id="records" class="muted"></div>
  </div>
  <div class="right">
    <h3 style="margin-top:0">周期结算</h3>
    <div id="summary" class="muted"></div>
    <div id="periods" class="muted"></div>
    <hr/>
    <h3>日志</h3>
    <pre id="logs"></pre>
  </div>
</div>

<script>
async function api(path, opts) {
  const res = await fetch(path, Object.assign({headers: {'Content-Type':'application/json'}}, opts||{}));
  const data = await res.json().catch(()=> ({}));
  if (!res.ok) throw new Error(data.error || ('HTTP '+res.status));
  return data;
}

function escapeHTML(s){ return String(s==null?'':s).replaceAll('&','&amp;').replaceAll('<','&lt;').replaceAll('>','&gt;'); }

async function reloadStatus() {
  const root = document.getElementById('status');
  try {
    const data = await api('/api/status');
    const st = data.status || {};
    root.innerHTML = '<div>周期 <b>'+st.period+'</b> 已过 '+st.elapsed_seconds+'s 剩余 '+st.remaining_seconds+'s</div>'
      + '<div>tick '+st.ticks+' 错误 '+st.tick_errors+(st.halted ? ' <b class="loss">入场已暂停</b>' : '')+'</div>'
      + (st.last_error ? '<div class="loss">'+escapeHTML(st.last_error)+'</div>' : '');
    const recs = st.live || [];
    document.getElementById('records').innerHTML = recs.length === 0 ? '暂无' :
      '<table><tr><th>key</th><th>state</th><th>shares</th></tr>' +
      recs.map(r => '<tr><td>'+escapeHTML(JSON.stringify(r.Key||r.key))+'</td><td>'+escapeHTML(r.State||r.state)+'</td><td>'+escapeHTML(r.Shares||r.shares)+'</td></tr>').join('') +
      '</table>';
  } catch (e) {
    root.innerHTML = '加载状态失败：'+escapeHTML(e && e.message ? e.message : e);
  }
}

async function reloadPeriods() {
  try {
    const data = await api('/api/periods?limit=50');
    const s = data.summary || {};
    document.getElementById('summary').innerHTML = '周期 '+s.periods+' 赢 '+s.wins+' 亏 '+s.losses+' 平 '+s.flats+' 总 P&L <b>'+escapeHTML(s.total_pnl)+'</b>';
    const rows = data.periods || [];
    document.getElementById('periods').innerHTML = '<table><tr><th>period</th><th>slug</th><th>winner</th><th>cost</th><th>value</th><th>pnl</th></tr>' +
      rows.map(r => '<tr><td>'+r.period+'</td><td>'+escapeHTML(r.slug)+'</td><td>'+escapeHTML(r.winner)+'</td><td>'+r.cost+'</td><td>'+r.value+'</td><td class="'+r.result+'">'+r.pnl+'</td></tr>').join('') +
      '</table>';
  } catch (e) {
    document.getElementById('periods').innerHTML = '加载结算失败：'+escapeHTML(e && e.message ? e.message : e);
  }
}

async function setHalt(halt) {
  try { await api(halt ? '/api/risk/halt' : '/api/risk/resume', {method: 'POST'}); } catch (e) { alert(e.message); }
  reloadStatus();
}

function startLogs() {
  const pre = document.getElementById('logs');
  api('/api/logs?tail=200').then(d => { pre.textContent = (d.lines||[]).join('\n') + '\n'; }).catch(()=>{});
  const es = new EventSource('/api/logs/stream');
  es.onmessage = (ev) => { pre.textContent += ev.data + '\n'; pre.scrollTop = pre.scrollHeight; };
}

reloadStatus();
reloadPeriods();
startLogs();
setInterval(reloadStatus, 2000);
setInterval(reloadPeriods, 15000);
</script>
</body>
</html>
`
