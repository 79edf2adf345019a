//go:build windows

package terminal

// Windows consoles have no SIGWINCH; the size is reported once at start.
func watchResize(fn func()) (stop func()) {
	return func() {}
}
