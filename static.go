package main

import (
	"embed"
	"path"
)

// webFS holds the dashboard templates and assets.
//
//go:embed web
var webFS embed.FS

// Page templates. Plain assets are served straight from webFS.
var (
	indexHTML  = mustAsset("index.html")
	loginHTML  = mustAsset("login.html")
	faviconSVG = mustAsset("favicon.svg")
)

// mustAsset returns an embedded file. A missing file is a build mistake.
func mustAsset(name string) string {
	b, err := webFS.ReadFile(path.Join("web", name))
	if err != nil {
		panic(err)
	}
	return string(b)
}
