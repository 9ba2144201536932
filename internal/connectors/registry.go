package connectors

import (
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/infra"
)

// Registry — неизменяемая карта имя -> клиент, собирается один раз при старте.
type Registry struct {
	clients map[string]Client
	names   []string
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	for name := range r.clients {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// FromConfig строит защищённых клиентов для всех настроенных downstream.
func FromConfig(cfg *infra.Config, hc *http.Client, metrics *infra.Metrics, logger *zap.Logger) (*Registry, error) {
	settings := SettingsFromConfig(cfg.Downstream)
	clients := make([]Client, 0, len(cfg.Downstreams))
	for name, d := range cfg.Downstreams {
		transport := Transport(d.Transport)
		if transport != TransportHTTP && transport != TransportSSE {
			return nil, fmt.Errorf("downstream %s: unknown transport %q", name, d.Transport)
		}
		raw := NewMCPClient(ClientConfig{
			Name:      name,
			BaseURL:   d.BaseURL,
			Token:     d.Token,
			Transport: transport,
			Timeout:   cfg.Downstream.Timeout,
		}, hc)
		clients = append(clients, NewProtectedClient(raw, settings, metrics, logger))
	}
	return NewRegistry(clients...), nil
}

func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// Names — имена в алфавитном порядке.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
