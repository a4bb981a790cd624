package ftpserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/metrics"
)

const maxLineBytes = 4096

// session is one control connection. Commands run strictly one at a time.
type session struct {
	id     uint64
	srv    *Server
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	ctx    context.Context
	logger *slog.Logger

	state      domain.AuthState
	user       string
	cwd        string
	fs         ports.FileSystem
	pasv       net.Listener
	restOffset int64
	renameFrom string
	lastCode   int

	closeOnce sync.Once
}

func newSession(srv *Server, conn net.Conn, id uint64) *session {
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, maxLineBytes),
		w:      bufio.NewWriter(conn),
		ctx:    srv.ctx,
		state:  domain.AuthUnauthenticated,
		cwd:    "/",
		logger: srv.logger.With(slog.Uint64("sessionId", id), slog.String("remote", conn.RemoteAddr().String())),
	}
}

func (s *session) serve() {
	metrics.FTPSessionsActive.Inc()
	defer metrics.FTPSessionsActive.Dec()
	defer s.close()

	s.logger.Info("ftp session opened")
	if err := s.reply(220, s.srv.cfg.Greeting); err != nil {
		return
	}
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.IdleTimeout))
		raw, err := s.r.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				_ = s.reply(500, "Command line too long.")
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				_ = s.reply(421, "Timeout.")
			}
			return
		}
		verb, arg := parseCommand(string(raw))
		if verb == "" {
			if s.reply(500, "Empty command.") != nil {
				return
			}
			continue
		}
		keepOpen := s.dispatch(verb, arg)
		metrics.FTPCommandsTotal.WithLabelValues(metricVerb(verb), strconv.Itoa(s.lastCode/100)+"xx").Inc()
		if !keepOpen {
			return
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.state = domain.AuthClosed
		s.closePassive()
		_ = s.conn.Close()
		s.logger.Info("ftp session closed")
	})
}

func parseCommand(line string) (string, string) {
	line = strings.TrimRight(line, "\r\n")
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(strings.TrimSpace(verb)), arg
}

func (s *session) reply(code int, msg string) error {
	s.lastCode = code
	if _, err := fmt.Fprintf(s.w, "%d %s\r\n", code, msg); err != nil {
		return err
	}
	return s.w.Flush()
}

// replyLines sends a multi-line reply in the "code-" ... "code " form.
func (s *session) replyLines(code int, first string, lines []string, last string) error {
	s.lastCode = code
	fmt.Fprintf(s.w, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.w, " %s\r\n", l)
	}
	fmt.Fprintf(s.w, "%d %s\r\n", code, last)
	return s.w.Flush()
}

// replyErr maps storage errors onto reply codes. The session stays open.
func (s *session) replyErr(op string, err error) bool {
	s.logger.Warn("ftp command failed", slog.String("op", op), slog.String("error", err.Error()))
	var code int
	var msg string
	switch {
	case errors.Is(err, domain.ErrNotADirectory):
		code, msg = 550, "Failed to change directory."
	case errors.Is(err, domain.ErrNotFound):
		code, msg = 550, "No such file or directory."
	case errors.Is(err, domain.ErrUnsupported):
		code, msg = 550, "Permission denied: storage is read-only."
	default:
		code, msg = 451, "Requested action aborted: local error in processing."
	}
	return s.reply(code, msg) == nil
}

func (s *session) dispatch(verb, arg string) bool {
	switch verb {
	case "USER":
		return s.cmdUser(arg)
	case "PASS":
		return s.cmdPass(arg)
	case "QUIT":
		_ = s.reply(221, "Goodbye.")
		return false
	case "SYST":
		return s.reply(215, "UNIX Type: L8") == nil
	case "FEAT":
		return s.replyLines(211, "Features:", []string{"EPSV", "PASV", "SIZE", "MDTM", "REST STREAM", "UTF8"}, "End") == nil
	case "NOOP":
		return s.reply(200, "NOOP ok.") == nil
	case "OPTS":
		if strings.EqualFold(strings.TrimSpace(arg), "UTF8 ON") {
			return s.reply(200, "Always in UTF8 mode.") == nil
		}
		return s.reply(501, "Option not understood.") == nil
	case "AUTH", "PBSZ", "PROT", "PORT", "EPRT":
		return s.reply(502, "Command not implemented.") == nil
	}

	if s.state != domain.AuthAuthenticated {
		return s.reply(530, "Please login with USER and PASS.") == nil
	}

	switch verb {
	case "PWD", "XPWD":
		return s.reply(257, quote(s.cwd)+" is the current directory") == nil
	case "CWD", "XCWD":
		return s.cmdCwd(arg)
	case "CDUP", "XCUP":
		return s.cmdCwd("..")
	case "TYPE":
		return s.cmdType(arg)
	case "MODE":
		return s.acceptOnly(arg, "S", "Mode set to S.")
	case "STRU":
		return s.acceptOnly(arg, "F", "Structure set to F.")
	case "PASV":
		return s.cmdPasv()
	case "EPSV":
		return s.cmdEpsv(arg)
	case "LIST":
		return s.cmdList(arg, true)
	case "NLST":
		return s.cmdList(arg, false)
	case "RETR":
		return s.cmdRetr(arg)
	case "REST":
		return s.cmdRest(arg)
	case "SIZE":
		return s.cmdSize(arg)
	case "MDTM":
		return s.cmdMdtm(arg)
	case "STOR", "APPE":
		return s.cmdStor(arg)
	case "DELE", "RMD", "XRMD":
		if err := s.fs.Delete(s.ctx, s.resolve(arg)); err != nil {
			return s.replyErr("delete", err)
		}
		return s.reply(250, "Delete operation successful.") == nil
	case "MKD", "XMKD":
		target := s.resolve(arg)
		if err := s.fs.Mkdir(s.ctx, target); err != nil {
			return s.replyErr("mkdir", err)
		}
		return s.reply(257, quote(target)+" created") == nil
	case "RNFR":
		s.renameFrom = s.resolve(arg)
		return s.reply(350, "Ready for RNTO.") == nil
	case "RNTO":
		from := s.renameFrom
		s.renameFrom = ""
		if from == "" {
			return s.reply(503, "RNFR required first.") == nil
		}
		if err := s.fs.Rename(s.ctx, from, s.resolve(arg)); err != nil {
			return s.replyErr("rename", err)
		}
		return s.reply(250, "Rename successful.") == nil
	default:
		return s.reply(502, "Command not implemented.") == nil
	}
}

func (s *session) cmdUser(arg string) bool {
	if s.state == domain.AuthAuthenticated {
		return s.reply(503, "Already logged in.") == nil
	}
	s.user = arg
	return s.reply(331, "Please specify the password.") == nil
}

// cmdPass checks both halves of the credential in constant time and gives
// the same answer whichever half is wrong. A failed login ends the session.
func (s *session) cmdPass(arg string) bool {
	if s.state == domain.AuthAuthenticated {
		return s.reply(230, "Already logged in.") == nil
	}
	if s.user == "" {
		return s.reply(503, "Login with USER first.") == nil
	}
	cfg := s.srv.cfg
	userOK := subtle.ConstantTimeCompare([]byte(s.user), []byte(cfg.Username))
	passOK := subtle.ConstantTimeCompare([]byte(arg), []byte(cfg.Password))
	if userOK&passOK != 1 {
		metrics.FTPLoginsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("ftp login rejected")
		_ = s.reply(530, "Login incorrect.")
		return false
	}
	if !domain.CanTransitionAuth(s.state, domain.AuthAuthenticated) {
		return false
	}
	if s.fs == nil {
		s.fs = s.srv.newFS()
	}
	s.state = domain.AuthAuthenticated
	s.cwd = "/"
	metrics.FTPLoginsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("ftp login accepted", slog.String("user", s.user))
	return s.reply(230, "Login successful.") == nil
}

// resolve turns a client argument into a clean absolute path.
func (s *session) resolve(arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return s.cwd
	}
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	return path.Clean(path.Join(s.cwd, arg))
}

// lookup finds p in the listing of its parent directory.
func (s *session) lookup(p string) (domain.VirtualEntry, error) {
	if p == "/" {
		return domain.NewDirectoryEntry("/", "/"), nil
	}
	entries, err := s.fs.List(s.ctx, path.Dir(p))
	if err != nil {
		return domain.VirtualEntry{}, err
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return domain.VirtualEntry{}, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
}

func (s *session) cmdCwd(arg string) bool {
	target := s.resolve(arg)
	e, err := s.lookup(target)
	if err == nil && !e.IsDir() {
		err = fmt.Errorf("%w: %s", domain.ErrNotADirectory, target)
	}
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: %s", domain.ErrNotADirectory, target)
	}
	if err != nil {
		return s.replyErr("cwd", err)
	}
	s.cwd = target
	return s.reply(250, "Directory successfully changed.") == nil
}

func (s *session) cmdType(arg string) bool {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "I", "L 8":
		return s.reply(200, "Switching to Binary mode.") == nil
	case "A", "A N":
		return s.reply(200, "Switching to ASCII mode.") == nil
	default:
		return s.reply(504, "Unsupported type.") == nil
	}
}

func (s *session) acceptOnly(arg, want, ok string) bool {
	if strings.EqualFold(strings.TrimSpace(arg), want) {
		return s.reply(200, ok) == nil
	}
	return s.reply(504, "Bad parameter.") == nil
}

func (s *session) cmdRest(arg string) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || n < 0 {
		return s.reply(501, "Invalid restart position.") == nil
	}
	s.restOffset = n
	return s.reply(350, fmt.Sprintf("Restart position accepted (%d).", n)) == nil
}

func (s *session) cmdSize(arg string) bool {
	e, err := s.lookup(s.resolve(arg))
	if err != nil {
		return s.replyErr("size", err)
	}
	if e.IsDir() {
		return s.reply(550, "Could not get file size.") == nil
	}
	return s.reply(213, strconv.FormatInt(e.Size, 10)) == nil
}

func (s *session) cmdMdtm(arg string) bool {
	e, err := s.lookup(s.resolve(arg))
	if err != nil {
		return s.replyErr("mdtm", err)
	}
	if e.IsDir() || e.ModTime.IsZero() {
		return s.reply(550, "Could not get file modification time.") == nil
	}
	return s.reply(213, e.ModTime.UTC().Format("20060102150405")) == nil
}

func (s *session) cmdList(arg string, long bool) bool {
	arg = strings.TrimSpace(arg)
	// Clients commonly send ls flags such as "-la" ahead of the path.
	if strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = rest
	}
	if s.pasv == nil {
		return s.reply(425, "Use PASV or EPSV first.") == nil
	}
	entries, err := s.fs.List(s.ctx, s.resolve(arg))
	if err != nil {
		s.closePassive()
		return s.replyErr("list", err)
	}

	if err := s.reply(150, "Here comes the directory listing."); err != nil {
		return false
	}
	data, err := s.acceptData()
	if err != nil {
		return s.reply(425, "Failed to establish connection.") == nil
	}
	bw := bufio.NewWriter(data)
	now := time.Now().UTC()
	for _, e := range entries {
		if long {
			bw.WriteString(formatListLine(e, now))
		} else {
			bw.WriteString(e.Name)
		}
		bw.WriteString("\r\n")
	}
	werr := bw.Flush()
	cerr := data.Close()
	if werr != nil || cerr != nil {
		return s.reply(426, "Connection closed; transfer aborted.") == nil
	}
	return s.reply(226, "Directory send OK.") == nil
}

func (s *session) cmdRetr(arg string) bool {
	offset := s.restOffset
	s.restOffset = 0
	if s.pasv == nil {
		return s.reply(425, "Use PASV or EPSV first.") == nil
	}
	target := s.resolve(arg)
	rc, err := s.fs.Get(s.ctx, target)
	if err != nil {
		s.closePassive()
		return s.replyErr("retr", err)
	}
	defer rc.Close()
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
			s.closePassive()
			return s.reply(554, "Restart position beyond end of file.") == nil
		}
	}

	if err := s.reply(150, "Opening BINARY mode data connection for "+path.Base(target)+"."); err != nil {
		return false
	}
	data, err := s.acceptData()
	if err != nil {
		return s.reply(425, "Failed to establish connection.") == nil
	}
	n, err := io.Copy(data, rc)
	metrics.FTPBytesSent.Add(float64(n))
	cerr := data.Close()
	if err != nil || cerr != nil {
		s.logger.Warn("ftp transfer aborted", slog.String("path", target), slog.Int64("bytes", n))
		return s.reply(426, "Connection closed; transfer aborted.") == nil
	}
	s.logger.Debug("ftp transfer complete", slog.String("path", target), slog.Int64("bytes", n))
	return s.reply(226, "Transfer complete.") == nil
}

// cmdStor hands the adapter a reader that opens the data connection on
// first read, so a refusing adapter never touches the data channel.
func (s *session) cmdStor(arg string) bool {
	if s.pasv == nil {
		return s.reply(425, "Use PASV or EPSV first.") == nil
	}
	src := &lazyData{s: s}
	err := s.fs.Write(s.ctx, s.resolve(arg), src)
	if src.conn != nil {
		_ = src.conn.Close()
	} else {
		s.closePassive()
	}
	if src.err != nil {
		return false
	}
	if err != nil {
		return s.replyErr("stor", err)
	}
	return s.reply(226, "Transfer complete.") == nil
}

type lazyData struct {
	s    *session
	conn net.Conn
	err  error
}

func (l *lazyData) Read(p []byte) (int, error) {
	if l.conn == nil {
		if l.err = l.s.reply(150, "Ok to send data."); l.err != nil {
			return 0, l.err
		}
		conn, err := l.s.acceptData()
		if err != nil {
			return 0, err
		}
		l.conn = conn
	}
	return l.conn.Read(p)
}

func quote(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

var knownVerbs = map[string]struct{}{
	"USER": {}, "PASS": {}, "QUIT": {}, "SYST": {}, "FEAT": {}, "NOOP": {}, "OPTS": {},
	"PWD": {}, "CWD": {}, "CDUP": {}, "TYPE": {}, "MODE": {}, "STRU": {}, "PASV": {},
	"EPSV": {}, "LIST": {}, "NLST": {}, "RETR": {}, "REST": {}, "SIZE": {}, "MDTM": {},
	"STOR": {}, "APPE": {}, "DELE": {}, "RMD": {}, "MKD": {}, "RNFR": {}, "RNTO": {},
}

func metricVerb(verb string) string {
	if _, ok := knownVerbs[verb]; ok {
		return verb
	}
	return "OTHER"
}
