package portal

import "html/template"

var dashboardTemplate = template.Must(template.New("portal-dashboard").Parse(`<!DOCTYPE html>
<html><head><title>Sovereign Portal</title></head>
<body>
<h1>Sovereign Portal</h1>
<p>Bearer-token gated verification and counterparty signing surface. Obtain a
token via <code>POST /token</code>, then present it as
<code>Authorization: Bearer &lt;token&gt;</code> against
<code>/verify/:documentId</code>, <code>/verify/cid/:cid</code>,
<code>/sign/:documentId</code>, or <code>/status/:workflowId</code>.</p>
</body></html>`))
