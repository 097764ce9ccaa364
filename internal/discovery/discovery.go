// Package discovery anuncia o nó na rede local via mDNS, procura outros nós
// e, opcionalmente, mapeia a porta de pacotes no roteador via UPnP.
package discovery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/registry"
)

const (
	serviceType = "_p2p-chat._tcp"
	domain      = "local."
	maxRetries  = 3
	retryDelay  = 5 * time.Second

	// intervalos de busca: curto no início, depois mais espaçado
	fastBrowseInterval = 5 * time.Second
	slowBrowseInterval = 30 * time.Second
	fastBrowseRounds   = 5
	browseTimeout      = 2 * time.Second
)

// Options controla quais mecanismos são usados.
type Options struct {
	MDNS   bool
	UPnP   bool
	Logger logging.Logger
	// OnPeer é chamado para cada peer encontrado (pode repetir).
	OnPeer func(registry.Peer)
}

// Service é o serviço de descoberta de um nó
type Service struct {
	self       registry.Peer
	instanceID string
	opts       Options
	logger     logging.Logger

	mu       sync.Mutex
	server   *zeroconf.Server
	mapping  *portMapping
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen map[string]time.Time
}

// New cria um novo serviço de descoberta para self
func New(self registry.Peer, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.OnPeer == nil {
		opts.OnPeer = func(registry.Peer) {}
	}
	return &Service{
		self:       self,
		instanceID: generateInstanceID(),
		opts:       opts,
		logger:     logger.With("module", "discovery"),
		lastSeen:   make(map[string]time.Time),
	}
}

// Start registra o serviço no mDNS, configura UPnP e inicia a busca
// periódica. Falha de UPnP é apenas registrada no log.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if s.opts.UPnP {
		m, err := mapPort(ctx, s.self.Port)
		if err != nil {
			s.logger.Info("UPnP indisponível", "err", err)
		} else {
			s.mu.Lock()
			s.mapping = m
			s.mu.Unlock()
			s.logger.Info("porta mapeada via UPnP", "port", s.self.Port, "external", m.externalIP)
		}
	}

	if !s.opts.MDNS {
		close(s.done)
		return nil
	}
	if err := s.startMDNS(ctx); err != nil {
		cancel()
		close(s.done)
		return fmt.Errorf("erro ao iniciar mDNS: %w", err)
	}
	go s.discoverPeers(ctx)
	return nil
}

// Stop encerra anúncio, busca e mapeamento de porta
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	server, mapping := s.server, s.mapping
	s.server, s.mapping = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if server != nil {
		server.Shutdown()
	}
	if mapping != nil {
		if err := mapping.remove(); err != nil {
			s.logger.Info("falha ao remover mapeamento UPnP", "err", err)
		}
	}
}

// startMDNS registra o serviço com retry
func (s *Service) startMDNS(ctx context.Context) error {
	txt := []string{
		"id=" + s.self.ID,
		"instance=" + s.instanceID,
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		var server *zeroconf.Server
		server, err = zeroconf.Register(
			"p2p-chat-"+s.instanceID,
			serviceType,
			domain,
			s.self.Port,
			txt,
			nil,
		)
		if err == nil {
			s.mu.Lock()
			s.server = server
			s.mu.Unlock()
			s.logger.Info("serviço registrado no mDNS", "instance", s.instanceID, "port", s.self.Port)
			return nil
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return fmt.Errorf("falha após %d tentativas: %w", maxRetries, err)
}

// discoverPeers procura continuamente por novos peers
func (s *Service) discoverPeers(ctx context.Context) {
	defer close(s.done)

	// primeira busca imediata
	s.performBrowse(ctx)

	ticker := time.NewTicker(fastBrowseInterval)
	defer ticker.Stop()
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count++
			// após algumas buscas, aumenta o intervalo para reduzir o tráfego
			if count == fastBrowseRounds {
				ticker.Reset(slowBrowseInterval)
			}
			s.performBrowse(ctx)
		}
	}
}

// performBrowse realiza uma única busca por peers
func (s *Service) performBrowse(ctx context.Context) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.logger.Error("falha ao criar resolver", "err", err)
		return
	}

	browseCtx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	browseDone := make(chan struct{})
	go func() {
		defer close(browseDone)
		for entry := range entries {
			for _, p := range s.entryPeers(entry) {
				s.found(p)
			}
		}
	}()

	// o resolver fecha entries quando browseCtx termina
	if err := resolver.Browse(browseCtx, serviceType, domain, entries); err != nil {
		s.logger.Error("falha ao procurar serviços", "err", err)
		close(entries)
		<-browseDone
		return
	}
	<-browseCtx.Done()
	<-browseDone
}

func (s *Service) found(p registry.Peer) {
	s.mu.Lock()
	_, known := s.lastSeen[p.ID]
	s.lastSeen[p.ID] = time.Now()
	s.mu.Unlock()

	if !known {
		s.logger.Info("novo peer encontrado", "peer", p.ID)
	}
	s.opts.OnPeer(p)
}

// entryPeers converte uma entrada mDNS em peers, ignorando a própria instância
func (s *Service) entryPeers(entry *zeroconf.ServiceEntry) []registry.Peer {
	txt := parseTXT(entry.Text)
	if txt["instance"] == s.instanceID {
		return nil
	}

	// o id anunciado é o endereço que o peer usa nos pacotes
	if id := txt["id"]; id != "" {
		if p, err := registry.ParseID(id); err == nil && p.ID != s.self.ID {
			return []registry.Peer{p}
		}
	}

	var peers []registry.Peer
	for _, ip := range entry.AddrIPv4 {
		p, err := registry.NewPeer(ip.String(), entry.Port)
		if err != nil || p.ID == s.self.ID {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// Known retorna quantos peers distintos já foram vistos
func (s *Service) Known() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastSeen)
}

func parseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// generateInstanceID gera um ID único para esta instância
func generateInstanceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// LocalIP retorna o primeiro IPv4 não loopback da máquina
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// ParseBootstrap converte endereços host:porta em peers, ignorando inválidos
func ParseBootstrap(addrs []string) ([]registry.Peer, []error) {
	var (
		peers []registry.Peer
		errs  []error
	)
	for _, a := range addrs {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(a))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			errs = append(errs, fmt.Errorf("porta inválida em %q: %w", a, err))
			continue
		}
		p, err := registry.NewPeer(host, port)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		peers = append(peers, p)
	}
	return peers, errs
}
