package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the command that opens url in the default browser.
func browserCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	default:
		return "", nil, fmt.Errorf("no browser opener for %s", goos)
	}
}

// BrowserOpener opens URLs in the platform's default browser.
type BrowserOpener struct{}

// Open starts the browser and returns without waiting for it to exit. The
// browser process outlives ctx.
func (BrowserOpener) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, args, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
