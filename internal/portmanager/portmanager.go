// Package portmanager escolhe a porta do listener de pacotes quando a
// configuração não fixa uma.
package portmanager

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/peder1981/p2p-chat/internal/errs"
)

const (
	// Faixa padrão: portas dinâmicas/privadas
	DefaultMinPort = 49152
	DefaultMaxPort = 65535
)

// PortManager gerencia a alocação de portas para o listener de pacotes
type PortManager struct {
	mu          sync.Mutex
	minPort     int
	maxPort     int
	usedPorts   map[int]bool
	currentPort int
}

// New cria um PortManager para a faixa dinâmica/privada
func New() *PortManager {
	return NewRange(DefaultMinPort, DefaultMaxPort)
}

// NewRange cria um PortManager restrito a [min, max]
func NewRange(min, max int) *PortManager {
	return &PortManager{
		minPort:     min,
		maxPort:     max,
		usedPorts:   make(map[int]bool),
		currentPort: min,
	}
}

// Bind percorre a faixa uma vez, a partir da última porta usada, chamando
// bind com host:porta até uma tentativa funcionar. A porta fica reservada
// até ReleasePort.
func (pm *PortManager) Bind(host string, bind func(addr string) error) (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	span := pm.maxPort - pm.minPort + 1
	var lastErr error
	for i := 0; i < span; i++ {
		port := pm.minPort + (pm.currentPort-pm.minPort+i)%span

		// Verifica se a porta já está em uso pelo nosso sistema
		if pm.usedPorts[port] {
			continue
		}
		if err := bind(net.JoinHostPort(host, strconv.Itoa(port))); err != nil {
			lastErr = err
			continue
		}

		pm.usedPorts[port] = true
		pm.currentPort = port + 1
		if pm.currentPort > pm.maxPort {
			pm.currentPort = pm.minPort
		}
		return port, nil
	}

	return 0, fmt.Errorf("não há portas disponíveis na faixa %d-%d (%v): %w", pm.minPort, pm.maxPort, lastErr, errs.ErrUnavailable)
}

// ReleasePort libera uma porta para ser reutilizada
func (pm *PortManager) ReleasePort(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.usedPorts, port)
}
