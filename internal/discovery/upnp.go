package discovery

import (
	"context"
	"fmt"

	"github.com/huin/goupnp/dcps/internetgateway2"
)

// portMapper é o subconjunto do cliente WANIPConnection1 usado aqui
type portMapper interface {
	AddPortMapping(NewRemoteHost string, NewExternalPort uint16, NewProtocol string, NewInternalPort uint16, NewInternalClient string, NewEnabled bool, NewPortMappingDescription string, NewLeaseDuration uint32) error
	DeletePortMapping(NewRemoteHost string, NewExternalPort uint16, NewProtocol string) error
	GetExternalIPAddress() (NewExternalIPAddress string, err error)
}

type portMapping struct {
	client     portMapper
	port       uint16
	externalIP string
}

// mapPort configura o mapeamento TCP da porta de pacotes usando UPnP
func mapPort(ctx context.Context, port int) (*portMapping, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx)
	if err != nil {
		return nil, err
	}
	mappers := make([]portMapper, 0, len(clients))
	for _, c := range clients {
		mappers = append(mappers, c)
	}
	return mapWith(mappers, port, LocalIP())
}

// mapWith tenta mapear a porta em cada cliente até um aceitar
func mapWith(clients []portMapper, port int, localIP string) (*portMapping, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("nenhum cliente UPnP encontrado")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("porta inválida %d", port)
	}
	p := uint16(port)
	var lastErr error
	for _, c := range clients {
		if err := c.AddPortMapping("", p, "TCP", p, localIP, true, "p2p-chat", 0); err != nil {
			lastErr = err
			continue
		}
		ext, _ := c.GetExternalIPAddress()
		return &portMapping{client: c, port: p, externalIP: ext}, nil
	}
	return nil, fmt.Errorf("falha ao mapear porta em todos os clientes: %w", lastErr)
}

func (m *portMapping) remove() error {
	return m.client.DeletePortMapping("", m.port, "TCP")
}
