package ftptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const dataTimeout = 10 * time.Second

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	user       string
	loggedIn   bool
	cwd        string
	renameFrom string
	prot       string
	pasv       net.Listener
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cwd:    "/",
		prot:   "C",
	}
}

var handlers = map[string]func(*session, string){
	"USER": (*session).handleUSER,
	"PASS": (*session).handlePASS,
	"AUTH": (*session).handleAUTH,
	"PBSZ": (*session).handlePBSZ,
	"PROT": (*session).handlePROT,
	"SYST": func(s *session, _ string) { s.reply(215, "UNIX Type: L8") },
	"NOOP": func(s *session, _ string) { s.reply(200, "NOOP ok.") },
	"FEAT": (*session).handleFEAT,
	"TYPE": (*session).handleTYPE,
	"PWD":  (*session).handlePWD,
	"CWD":  (*session).handleCWD,
	"CDUP": func(s *session, _ string) { s.handleCWD("..") },
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"SIZE": (*session).handleSIZE,
	"EPSV": (*session).handleEPSV,
	"PASV": (*session).handlePASV,
	"LIST": (*session).handleLIST,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
}

// verbs accepted before login.
var preLogin = map[string]bool{
	"USER": true, "PASS": true, "AUTH": true, "PBSZ": true, "PROT": true,
	"SYST": true, "NOOP": true, "FEAT": true, "QUIT": true,
}

func (s *session) run() {
	defer s.closePassive()

	s.reply(220, "ftptest ready.")
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.server.logger.Debug("session read failed", zap.Error(err))
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")

		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		logged := line
		if verb == "PASS" {
			logged = "PASS ***"
		}
		s.server.logger.Debug("command", zap.String("line", logged))

		forced, failed, drop := s.server.record(verb, logged)
		switch {
		case drop:
			return
		case failed:
			s.reply(forced.Code, forced.Message)
			continue
		case verb == "QUIT":
			s.reply(221, "Goodbye.")
			return
		case !s.loggedIn && !preLogin[verb]:
			s.reply(530, "Please login with USER and PASS.")
			continue
		}

		h, ok := handlers[verb]
		if !ok {
			s.reply(502, "Command not implemented.")
			continue
		}
		h(s, arg)
	}
}

func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "No such file or directory.")
	case os.IsExist(err):
		s.reply(550, "File exists.")
	default:
		s.reply(550, err.Error())
	}
}

func (s *session) handleUSER(arg string) {
	s.user = arg
	s.loggedIn = false
	s.reply(331, "Please specify the password.")
}

func (s *session) handlePASS(arg string) {
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return
	}
	if !s.server.checkLogin(s.user, arg) {
		s.reply(530, "Login incorrect.")
		return
	}
	s.loggedIn = true
	s.reply(230, "Login successful.")
}

func (s *session) handleAUTH(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	if !strings.EqualFold(arg, "TLS") {
		s.reply(504, "Only AUTH TLS is supported.")
		return
	}
	s.reply(234, "Proceed with negotiation.")

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
}

func (s *session) handlePBSZ(string) {
	if _, ok := s.conn.(*tls.Conn); !ok {
		s.reply(503, "PBSZ requires AUTH first.")
		return
	}
	s.reply(200, "PBSZ=0")
}

func (s *session) handlePROT(arg string) {
	if _, ok := s.conn.(*tls.Conn); !ok {
		s.reply(503, "PROT requires AUTH first.")
		return
	}
	switch strings.ToUpper(arg) {
	case "P", "C":
		s.prot = strings.ToUpper(arg)
		s.reply(200, "PROT now "+s.prot+".")
	default:
		s.reply(504, "PROT level not supported.")
	}
}

func (s *session) handleFEAT(string) {
	feats := []string{"SIZE", "UTF8", "PASV"}
	if !s.server.disableEPSV {
		feats = append(feats, "EPSV")
	}
	if s.server.tlsConfig != nil {
		feats = append(feats, "AUTH TLS", "PBSZ", "PROT")
	}
	fmt.Fprint(s.writer, "211-Features:\r\n")
	for _, f := range feats {
		fmt.Fprintf(s.writer, " %s\r\n", f)
	}
	s.reply(211, "End")
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "A", "A N", "I", "L 8":
		s.reply(200, "Type set to "+arg+".")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handlePWD(string) {
	s.reply(257, fmt.Sprintf(`"%s" is the current directory.`, strings.ReplaceAll(s.cwd, `"`, `""`)))
}

func (s *session) handleCWD(arg string) {
	p := s.abs(arg)
	info, err := s.server.root.Stat(rel(p))
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.IsDir() {
		s.reply(550, "Not a directory.")
		return
	}
	s.cwd = p
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleMKD(arg string) {
	p := s.abs(arg)
	if err := s.server.root.Mkdir(rel(p), 0o755); err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf(`"%s" created.`, strings.ReplaceAll(p, `"`, `""`)))
}

func (s *session) handleRMD(arg string) {
	p := s.abs(arg)
	info, err := s.server.root.Stat(rel(p))
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.IsDir() {
		s.reply(550, "Not a directory.")
		return
	}
	if err := s.server.root.Remove(rel(p)); err != nil {
		s.reply(550, "Directory not empty.")
		return
	}
	s.reply(250, "Remove directory operation successful.")
}

func (s *session) handleDELE(arg string) {
	p := s.abs(arg)
	info, err := s.server.root.Stat(rel(p))
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Is a directory.")
		return
	}
	if err := s.server.root.Remove(rel(p)); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Delete operation successful.")
}

func (s *session) handleRNFR(arg string) {
	p := s.abs(arg)
	if _, err := s.server.root.Stat(rel(p)); err != nil {
		s.renameFrom = ""
		s.replyError(err)
		return
	}
	s.renameFrom = p
	s.reply(350, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	if s.renameFrom == "" {
		s.reply(503, "RNFR required first.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""
	if err := s.server.root.Rename(rel(from), rel(s.abs(arg))); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Rename successful.")
}

func (s *session) handleSIZE(arg string) {
	info, err := s.server.root.Stat(rel(s.abs(arg)))
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.Mode().IsRegular() {
		s.reply(550, "Not a regular file.")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) listen() (net.Listener, bool) {
	s.closePassive()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return nil, false
	}
	s.pasv = ln
	return ln, true
}

func (s *session) handleEPSV(string) {
	if s.server.disableEPSV {
		s.reply(502, "EPSV not implemented.")
		return
	}
	ln, ok := s.listen()
	if !ok {
		return
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%s|)", port))
}

func (s *session) handlePASV(string) {
	ln, ok := s.listen()
	if !ok {
		return
	}
	addr := ln.Addr().(*net.TCPAddr)
	ip := addr.IP.To4()
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], addr.Port>>8, addr.Port&0xff))
}

func (s *session) closePassive() {
	if s.pasv != nil {
		s.pasv.Close()
		s.pasv = nil
	}
}

// openData accepts the pending passive connection, sends the 150 reply and
// only then starts TLS, so a client that handshakes on first use is never
// left waiting for a reply the server has not sent.
func (s *session) openData(what string) (net.Conn, bool) {
	if s.pasv == nil {
		s.reply(425, "Use PASV or EPSV first.")
		return nil, false
	}
	ln := s.pasv
	s.pasv = nil
	defer ln.Close()

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(dataTimeout))
	}
	conn, err := ln.Accept()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return nil, false
	}
	_ = conn.SetDeadline(time.Now().Add(dataTimeout))

	s.reply(150, "Opening BINARY mode data connection for "+what+".")

	if s.prot == "P" {
		tlsConn := tls.Server(conn, s.server.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			s.reply(425, "TLS negotiation on data connection failed.")
			return nil, false
		}
		conn = tlsConn
	}
	return conn, true
}

func (s *session) handleLIST(arg string) {
	// Ignore ls-style flags such as "-la".
	var target string
	for _, f := range strings.Fields(arg) {
		if !strings.HasPrefix(f, "-") {
			target = f
		}
	}
	p := s.abs(target)

	info, err := s.server.root.Stat(rel(p))
	if err != nil {
		s.replyError(err)
		return
	}

	var lines []string
	if info.IsDir() {
		entries, err := fs.ReadDir(s.server.root.FS(), rel(p))
		if err != nil {
			s.replyError(err)
			return
		}
		lines = append(lines,
			fmt.Sprintf("total %d", len(entries)),
			listLine(info, "."),
			listLine(info, ".."),
		)
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil {
				continue
			}
			lines = append(lines, listLine(fi, e.Name()))
		}
	} else {
		lines = append(lines, listLine(info, info.Name()))
	}

	conn, ok := s.openData("file list")
	if !ok {
		return
	}
	w := bufio.NewWriter(conn)
	for _, l := range lines {
		fmt.Fprintf(w, "%s\r\n", l)
	}
	werr := w.Flush()
	cerr := conn.Close()
	if werr != nil || cerr != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Directory send OK.")
}

func listLine(info fs.FileInfo, name string) string {
	return fmt.Sprintf("%s 1 owner group %d %s %s",
		info.Mode().String(), info.Size(), info.ModTime().Format("Jan 02 15:04"), name)
}

func (s *session) handleRETR(arg string) {
	p := s.abs(arg)
	f, err := s.server.root.Open(rel(p))
	if err != nil {
		s.replyError(err)
		return
	}
	defer f.Close()
	if info, err := f.Stat(); err != nil || info.IsDir() {
		s.reply(550, "Not a regular file.")
		return
	}

	conn, ok := s.openData(path.Base(p))
	if !ok {
		return
	}
	_, cerr := io.Copy(conn, f)
	if err := conn.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

func (s *session) handleSTOR(arg string) {
	p := s.abs(arg)
	f, err := s.server.root.OpenFile(rel(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.replyError(err)
		return
	}
	defer f.Close()

	conn, ok := s.openData(path.Base(p))
	if !ok {
		return
	}
	_, cerr := io.Copy(f, conn)
	conn.Close()
	if cerr != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

// abs resolves arg against the working directory. The result is always
// absolute and clean, so ".." cannot climb above "/".
func (s *session) abs(arg string) string {
	if arg == "" {
		return s.cwd
	}
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	return path.Join(s.cwd, arg)
}

// rel converts an absolute server path to a name relative to the root.
func rel(p string) string {
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "" {
		return "."
	}
	return p
}
