package acquisition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/providers/http/webroot"

	"github.com/lakowske/podserve/interfaces"
)

// webrootFulfiller answers HTTP-01 challenges by dropping token files under
// an already-serving web server's document root.
type webrootFulfiller struct {
	path string
}

// Preflight proves the challenge directory can be created and written. A
// missing or read-only webroot dooms the order before the CA is involved.
func (f *webrootFulfiller) Preflight(_ context.Context) error {
	challengeDir := filepath.Join(f.path, ".well-known", "acme-challenge")
	if err := os.MkdirAll(challengeDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWebrootUnavailable, err)
	}

	probe, err := os.CreateTemp(challengeDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWebrootUnavailable, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: removing probe file: %v", interfaces.ErrWebrootUnavailable, err)
	}
	return nil
}

func (f *webrootFulfiller) Attach(client acmeClient) error {
	provider, err := webroot.NewHTTPProvider(f.path)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWebrootUnavailable, err)
	}
	if err := client.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("configuring webroot provider: %w", err)
	}
	return nil
}
