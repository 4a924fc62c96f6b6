package templates

import (
	"embed"
	"html/template"
)

// SiteSetup renders the server, site and MQTT settings form.
const SiteSetup = "site_setup.html"

//go:embed *.html
var FS embed.FS

// Load parses every page in the embedded filesystem.
func Load() (*template.Template, error) {
	return template.ParseFS(FS, "*.html")
}
