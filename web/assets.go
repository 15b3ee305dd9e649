// Package web serves the forwarder's diagnostics status page: a single
// template rendered with a live Engine.Snapshot, plus its static assets.
package web

import "embed"

//go:embed index.html style/*
var Assets embed.FS
