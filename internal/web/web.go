// Package web holds the control page served by the HTTP bootstrap.
package web

import "embed"

//go:embed static/index.html static/lib.js
var assets embed.FS

func Index() []byte {
	b, _ := assets.ReadFile("static/index.html")
	return b
}

func LibJS() []byte {
	b, _ := assets.ReadFile("static/lib.js")
	return b
}
