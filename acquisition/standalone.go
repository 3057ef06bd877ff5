package acquisition

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-acme/lego/v4/challenge/http01"

	"github.com/lakowske/podserve/interfaces"
)

// standaloneFulfiller answers HTTP-01 challenges on a dedicated listener that
// exists only for the duration of the order.
type standaloneFulfiller struct {
	port int
}

// Preflight binds the challenge port and releases it again, so a port held by
// another process fails the attempt with a port conflict instead of a generic
// CA validation error.
func (f *standaloneFulfiller) Preflight(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(f.port)))
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", interfaces.ErrPortConflict, f.port, err)
	}
	return ln.Close()
}

func (f *standaloneFulfiller) Attach(client acmeClient) error {
	// The provider server binds lazily when the CA starts validating.
	provider := http01.NewProviderServer("", strconv.Itoa(f.port))
	if err := client.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("configuring http-01 listener: %w", err)
	}
	return nil
}
