package ftpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"
)

var errNoPassive = errors.New("no passive listener")

// openPassive binds a data listener on the control connection's local
// address, trying ports from the configured range starting at a random
// offset.
func (s *session) openPassive() (*net.TCPListener, error) {
	s.closePassive()
	local, ok := s.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("control connection is not TCP")
	}
	cfg := s.srv.cfg
	lo, hi := cfg.PassivePortMin, cfg.PassivePortMax
	if lo <= 0 {
		return listenData(local.IP, 0)
	}
	span := hi - lo + 1
	first := rand.IntN(span)
	var lastErr error
	for i := 0; i < span; i++ {
		port := lo + (first+i)%span
		ln, err := listenData(local.IP, port)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free passive port in %d-%d: %w", lo, hi, lastErr)
}

func listenData(ip net.IP, port int) (*net.TCPListener, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, err
	}
	return ln, nil
}

func (s *session) closePassive() {
	if s.pasv != nil {
		_ = s.pasv.Close()
		s.pasv = nil
	}
}

func (s *session) cmdPasv() bool {
	ip, err := s.advertisedIPv4()
	if err != nil {
		return s.reply(425, "Use EPSV with IPv6 control connections.") == nil
	}
	ln, err := s.openPassive()
	if err != nil {
		s.logger.Warn("ftp passive listen failed", slog.String("error", err.Error()))
		return s.reply(425, "Can't open passive connection.") == nil
	}
	s.pasv = ln
	port := ln.Addr().(*net.TCPAddr).Port
	msg := fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).", ip[0], ip[1], ip[2], ip[3], port>>8, port&0xff)
	return s.reply(227, msg) == nil
}

func (s *session) cmdEpsv(arg string) bool {
	if strings.EqualFold(strings.TrimSpace(arg), "ALL") {
		return s.reply(200, "EPSV ALL ok.") == nil
	}
	ln, err := s.openPassive()
	if err != nil {
		s.logger.Warn("ftp passive listen failed", slog.String("error", err.Error()))
		return s.reply(425, "Can't open passive connection.") == nil
	}
	s.pasv = ln
	port := ln.Addr().(*net.TCPAddr).Port
	return s.reply(229, "Entering Extended Passive Mode (|||"+strconv.Itoa(port)+"|)") == nil
}

func (s *session) advertisedIPv4() (net.IP, error) {
	if h := strings.TrimSpace(s.srv.cfg.PassiveHost); h != "" {
		if ip := net.ParseIP(h).To4(); ip != nil {
			return ip, nil
		}
		return nil, fmt.Errorf("passive host %q is not an IPv4 address", h)
	}
	local, ok := s.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("control connection is not TCP")
	}
	if ip := local.IP.To4(); ip != nil {
		return ip, nil
	}
	return nil, errors.New("control connection is IPv6")
}

// acceptData consumes the pending passive listener and waits for the
// client. Connections from a host other than the control peer are refused.
func (s *session) acceptData() (net.Conn, error) {
	ln, ok := s.pasv.(*net.TCPListener)
	if !ok || ln == nil {
		return nil, errNoPassive
	}
	s.pasv = nil
	defer ln.Close()

	_ = ln.SetDeadline(time.Now().Add(s.srv.cfg.DataTimeout))
	conn, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	ctrl, _ := s.conn.RemoteAddr().(*net.TCPAddr)
	peer := conn.RemoteAddr().(*net.TCPAddr)
	if ctrl != nil && !ctrl.IP.Equal(peer.IP) {
		_ = conn.Close()
		return nil, fmt.Errorf("data connection from %s does not match control peer %s", peer.IP, ctrl.IP)
	}
	return conn, nil
}
