// Package scheduler drives the periodic control loops (alert evaluation and
// agent health checks). Each Loop owns one goroutine and one ticker; the first
// tick runs synchronously inside Start so state is current as soon as
// monitoring begins.
package scheduler
