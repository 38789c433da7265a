package web

import (
	"embed"
)

// staticFiles holds the capture screen page, its script and stylesheet.
//
//go:embed static/*
var staticFiles embed.FS
