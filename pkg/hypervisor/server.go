// Package hypervisor implements the minimal hypervisor text protocol
// of spec.md §6: a CR/LF-framed, line-oriented `MODULE COMMAND arg...`
// protocol over TCP, the only machine-addressable surface driving the
// registry. The protocol itself is named out of core scope by spec.md
// §1 ("the hypervisor/CLI front-end"); this package ships just enough
// of it to exercise §8 scenario 2 (NIO bridge) and scenario 5
// (registry rename collision) end to end.
package hypervisor

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/dynamips/dynamips-go/pkg/nio"
	"github.com/dynamips/dynamips-go/pkg/registry"
)

// Response status codes, grouped by class per spec.md §6 ("Error codes
// are stable integers grouped by class (create/delete/binding/rename)").
const (
	CodeOK           = 100
	CodeErrCreate    = 200
	CodeErrDelete    = 210
	CodeErrBinding   = 220
	CodeErrRename    = 230
	CodeErrSyntax    = 240
)

// Server is the TCP front end for the registry: one goroutine accepts
// connections (the "hypervisor-protocol client thread" of spec.md
// §5), and one goroutine per connection reads CR/LF-terminated
// command lines and writes a response line for each.
type Server struct {
	reg    *registry.Registry
	logger *log.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a Server dispatching against reg. logger may be
// nil, in which case connection errors are discarded rather than logged.
func NewServer(reg *registry.Registry, logger *log.Logger) *Server {
	return &Server{reg: reg, logger: logger}
}

// Listen binds addr and starts accepting connections in the
// background. It returns once the listener is bound, matching
// pkg/nio.ListenTCPServerNIO's blocking-bind-then-return shape except
// Listen does not block waiting for the first client.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hypervisor: listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener's address, useful when Listen was
// called with port 0 for an ephemeral test port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		resp := s.dispatch(line)
		if _, err := conn.Write([]byte(resp + "\r\n")); err != nil {
			if s.logger != nil {
				s.logger.Printf("hypervisor: write to %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// Close stops accepting new connections and waits for every connection
// handler to return, which happens only once its client disconnects.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func statusLine(code int, word, msg string) string {
	if msg == "" {
		return fmt.Sprintf("%d %s", code, word)
	}
	return fmt.Sprintf("%d %s %s", code, word, msg)
}

// dispatch parses one command line and returns the single response
// line this minimal protocol subset produces for it.
func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return statusLine(CodeErrSyntax, "ERROR", "expected MODULE COMMAND [arg...]")
	}
	module, cmd, args := strings.ToLower(fields[0]), strings.ToLower(fields[1]), fields[2:]

	switch module {
	case "nio":
		return s.dispatchNIO(cmd, args)
	case "bridge":
		return s.dispatchBridge(cmd, args)
	case "registry":
		return s.dispatchRegistry(cmd, args)
	default:
		return statusLine(CodeErrSyntax, "ERROR", "unknown module "+module)
	}
}

func (s *Server) dispatchNIO(cmd string, args []string) string {
	switch cmd {
	case "create_udp":
		if len(args) != 3 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: nio create_udp NAME LOCAL REMOTE")
		}
		name, local, remote := args[0], args[1], args[2]
		n, err := nio.NewUDPNIO(local, remote, 0)
		if err != nil {
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		if err := s.reg.Add("nio", name, n); err != nil {
			n.Close()
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	case "create_tap":
		if len(args) != 2 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: nio create_tap NAME DEVNAME")
		}
		name, devName := args[0], args[1]
		n, err := nio.NewTAPNIO(devName, 0)
		if err != nil {
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		if err := s.reg.Add("nio", name, n); err != nil {
			n.Close()
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	case "create_vde":
		if len(args) != 3 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: nio create_vde NAME SWITCHPATH LOCALPATH")
		}
		name, switchPath, localPath := args[0], args[1], args[2]
		n, err := nio.NewVDENIO(switchPath, localPath, 0)
		if err != nil {
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		if err := s.reg.Add("nio", name, n); err != nil {
			n.Close()
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	case "create_rawsock":
		if len(args) != 2 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: nio create_rawsock NAME IFACE")
		}
		name, iface := args[0], args[1]
		n, err := nio.NewRawsockNIO(iface, 0)
		if err != nil {
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		if err := s.reg.Add("nio", name, n); err != nil {
			n.Close()
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	case "delete":
		if len(args) != 1 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: nio delete NAME")
		}
		obj, err := s.reg.Find("nio", args[0])
		if err != nil {
			return statusLine(CodeErrDelete, "ERROR", err.Error())
		}
		if n, ok := obj.(nio.NIO); ok {
			n.Close()
		}
		if err := s.reg.Delete("nio", args[0]); err != nil {
			return statusLine(CodeErrDelete, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	default:
		return statusLine(CodeErrSyntax, "ERROR", "unknown nio command "+cmd)
	}
}

func (s *Server) dispatchBridge(cmd string, args []string) string {
	switch cmd {
	case "create":
		if len(args) != 1 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: bridge create NAME")
		}
		if err := s.reg.Add("bridge", args[0], NewBridge()); err != nil {
			return statusLine(CodeErrCreate, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	case "add_nio":
		if len(args) != 2 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: bridge add_nio BRIDGE NIO")
		}
		bObj, err := s.reg.Find("bridge", args[0])
		if err != nil {
			return statusLine(CodeErrBinding, "ERROR", err.Error())
		}
		nObj, err := s.reg.Find("nio", args[1])
		if err != nil {
			return statusLine(CodeErrBinding, "ERROR", err.Error())
		}
		br, ok := bObj.(*Bridge)
		if !ok {
			return statusLine(CodeErrBinding, "ERROR", "not a bridge: "+args[0])
		}
		n, ok := nObj.(nio.NIO)
		if !ok {
			return statusLine(CodeErrBinding, "ERROR", "not a nio: "+args[1])
		}
		br.AddNIO(n)
		return statusLine(CodeOK, "OK", "")
	default:
		return statusLine(CodeErrSyntax, "ERROR", "unknown bridge command "+cmd)
	}
}

func (s *Server) dispatchRegistry(cmd string, args []string) string {
	switch cmd {
	case "rename":
		if len(args) != 3 {
			return statusLine(CodeErrSyntax, "ERROR", "usage: registry rename KIND OLD NEW")
		}
		kind, oldName, newName := args[0], args[1], args[2]
		if err := s.reg.Rename(kind, oldName, newName); err != nil {
			if errors.Is(err, registry.ErrAlreadyExists) {
				return statusLine(CodeErrRename, "ERR_RENAME", err.Error())
			}
			return statusLine(CodeErrRename, "ERROR", err.Error())
		}
		return statusLine(CodeOK, "OK", "")
	default:
		return statusLine(CodeErrSyntax, "ERROR", "unknown registry command "+cmd)
	}
}
