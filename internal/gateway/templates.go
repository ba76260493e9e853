package gateway

import "html/template"

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html><head><title>Signing Gateway</title></head>
<body>
<h1>Signing Gateway</h1>
<p>This is the public signing surface. Sessions are created via the Sovereign Portal or the
<code>POST /session</code> API and distributed as per-signer links of the form
<code>{{.BaseURL}}/sign/{token}</code>.</p>
</body></html>`))

type signingPageData struct {
	SessionID         string
	DocumentID        string
	SignerName        string
	SignerEmail       string
	Status            string
	RequiredInitials  []string
	CompletedInitials []string
	RequireOTP        bool
	RequireIntent     bool
}

var signingPageTemplate = template.Must(template.New("signing").Parse(`<!DOCTYPE html>
<html><head><title>Sign Document {{.DocumentID}}</title></head>
<body>
<h1>Signature required</h1>
<p>Signer: {{.SignerName}} &lt;{{.SignerEmail}}&gt;</p>
<p>Status: {{.Status}}</p>
{{if .RequiredInitials}}
<h2>Required initials</h2>
<ul>
{{range .RequiredInitials}}<li>{{.}}</li>{{end}}
</ul>
{{end}}
{{if .RequireOTP}}<p>A one-time code must be requested and verified before signing.</p>{{end}}
{{if .RequireIntent}}<p>By signing you affirm the consent text presented with this session.</p>{{end}}
</body></html>`))

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><title>Signing link unavailable</title></head>
<body>
<h1>This signing link is no longer valid</h1>
<p>The link may have expired, already been used, or never existed. Contact the document's
sender for a new link.</p>
</body></html>`))
