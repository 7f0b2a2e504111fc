package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The demo page under static/ exercises the full widget surface: session
// creation, the websocket protocol, cue playback, and canvas rendering.
//
//go:embed static/*
var demoAssets embed.FS

func newStaticHandler() http.Handler {
	sub, err := fs.Sub(demoAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
