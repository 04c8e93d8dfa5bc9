package discovery

import (
	"context"
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const service = "_collabstore._tcp"

// Announce registers the sync server over mDNS and logs peers discovered on
// the local network. The returned func tears the advertisement down; the
// browse loop ends when ctx is cancelled.
func Announce(ctx context.Context, port int, log zerolog.Logger) (func(), error) {
	host, _ := os.Hostname()
	srv, err := zeroconf.Register(
		fmt.Sprintf("collabstore-%s", host),
		service,
		"local.",
		port,
		[]string{"v=1"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("registering mdns service: %w", err)
	}
	log.Info().Str("service", service).Int("port", port).Msg("mdns service registered")

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("creating mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for e := range entries {
			log.Info().Str("instance", e.Instance).Int("port", e.Port).Msg("discovered peer")
		}
	}()
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("browsing mdns services: %w", err)
	}
	return srv.Shutdown, nil
}
