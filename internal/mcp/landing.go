package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>threaddemand</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #111827; color: #e5e7eb; margin: 0; padding: 3rem 1rem; }
  main { max-width: 640px; margin: 0 auto; }
  h1 { font-size: 1.5rem; margin: 0 0 0.5rem; }
  p { color: #9ca3af; line-height: 1.5; }
  code { font-family: "SF Mono", Menlo, monospace; color: #a5b4fc; }
  ul { padding-left: 1.25rem; line-height: 1.8; }
  a { color: #38bdf8; }
</style>
</head>
<body>
<main>
  <h1>threaddemand</h1>
  <p>Demand analytics over forum thread dumps via the Model Context Protocol.
  Tools: <code>search_threads</code>, <code>demand_count</code>, <code>mentions_over_time</code>,
  <code>growth_momentum</code>, <code>active_threads</code>, <code>threads_activity</code>,
  <code>top_matches</code>, <code>users_by_community</code>, <code>get_thread</code>,
  <code>opportunities</code>, <code>create_alert</code>, <code>analytics</code>,
  <code>get_pipeline_status</code>.</p>
  <ul>
    <li><a href="/mcp"><code>/mcp</code></a> MCP Streamable HTTP</li>
    <li><a href="/health"><code>/health</code></a> database and vector backend health</li>
    <li><a href="/metrics"><code>/metrics</code></a> Prometheus metrics</li>
  </ul>
</main>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
