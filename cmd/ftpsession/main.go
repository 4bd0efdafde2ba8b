// Command ftpsession runs one FTP or FTPS operation against a server and
// prints a confirmation line, the way a file manager front-end would.
//
//	ftpsession --host ftp.example.com --user alice --tls ls /pub
//	ftpsession --host 127.0.0.1 --port 2121 --user bob get remote.bin ./local.bin
//	ftpsession mirror /pub/site ./site
//
// Connection settings fall back to FTPSESSION_HOST, FTPSESSION_PORT,
// FTPSESSION_USER, FTPSESSION_PASSWORD and FTPSESSION_TLS; logging to
// FTPSESSION_LOG_LEVEL and FTPSESSION_LOG_FORMAT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gonzalop/ftpsession"
)

const (
	exitSuccess = iota
	exitUsage
	exitConnect
	exitOperation
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	cfg         ftpsession.ConnectionConfig
	verifyHost  bool
	timeout     time.Duration
	bandwidth   int64
	disableEPSV bool
	logLevel    string
	logFormat   string
	metricsAddr string
	progress    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	env := ftpsession.ConfigFromEnv()
	o := &options{cfg: env}

	fs := flag.NewFlagSet("ftpsession", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: ftpsession [flags] <ls|pwd|get|put|rm|rmdir|mv|mkdir|mirror> [args]\n\n")
		fs.PrintDefaults()
	}

	host := fs.StringP("host", "H", env.Host, "server host name or address")
	port := fs.IntP("port", "P", env.Port, "server control port")
	user := fs.StringP("user", "u", env.Username, "login name")
	password := fs.StringP("password", "p", "", "login password (default $FTPSESSION_PASSWORD)")
	useTLS := fs.Bool("tls", env.UseTLS, "upgrade with AUTH TLS before login")
	fs.BoolVar(&o.verifyHost, "verify-host", false, "verify the server certificate chain and host name")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "control and data connection timeout")
	fs.Int64Var(&o.bandwidth, "bandwidth", 0, "data transfer limit in bytes per second (0 is unlimited)")
	fs.BoolVar(&o.disableEPSV, "disable-epsv", false, "always use PASV")
	fs.StringVar(&o.logLevel, "log-level", envOr("FTPSESSION_LOG_LEVEL", "warn"), "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", envOr("FTPSESSION_LOG_FORMAT", "console"), "console or json")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fs.BoolVar(&o.progress, "progress", false, "print transfer progress events")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	o.cfg.Host = *host
	o.cfg.Port = *port
	o.cfg.Username = *user
	o.cfg.UseTLS = *useTLS
	if fs.Changed("password") {
		o.cfg.Password = password
	}
	return o, fs.Args(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level, format string, w io.Writer) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.WarnLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	enc := zapcore.NewConsoleEncoder(encCfg)
	if format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl))
}

// commands maps a verb to its argument count and the code that runs it.
var commands = map[string]struct {
	args int
	run  func(s *ftpsession.Session, p *message.Printer, out io.Writer, args []string) error
}{
	"ls": {-1, func(s *ftpsession.Session, p *message.Printer, out io.Writer, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		entries, err := s.ListDirectory(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			kind := "-"
			if e.IsDirectory {
				kind = "d"
			}
			p.Fprintf(out, "%s %-10s %14d %s %s\n", kind, e.Permissions, e.Size, e.Modified, e.Name)
		}
		return nil
	}},
	"pwd": {0, func(s *ftpsession.Session, p *message.Printer, out io.Writer, _ []string) error {
		dir, err := s.WorkingDirectory()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, dir)
		return nil
	}},
	"get": {2, func(s *ftpsession.Session, p *message.Printer, out io.Writer, args []string) error {
		n, err := s.DownloadFile(args[0], args[1])
		if err != nil {
			return err
		}
		p.Fprintf(out, "Downloaded %s (%d bytes)\n", args[0], n)
		return nil
	}},
	"put": {2, func(s *ftpsession.Session, p *message.Printer, out io.Writer, args []string) error {
		n, err := s.UploadFile(args[0], args[1])
		if err != nil {
			return err
		}
		p.Fprintf(out, "Uploaded %s (%d bytes)\n", args[1], n)
		return nil
	}},
	"rm": {1, func(s *ftpsession.Session, _ *message.Printer, out io.Writer, args []string) error {
		if err := s.DeleteFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted file: %s\n", args[0])
		return nil
	}},
	"rmdir": {1, func(s *ftpsession.Session, _ *message.Printer, out io.Writer, args []string) error {
		if err := s.DeleteDirectory(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted directory: %s\n", args[0])
		return nil
	}},
	"mv": {2, func(s *ftpsession.Session, _ *message.Printer, out io.Writer, args []string) error {
		if err := s.Rename(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Renamed %s to %s\n", args[0], args[1])
		return nil
	}},
	"mkdir": {1, func(s *ftpsession.Session, _ *message.Printer, out io.Writer, args []string) error {
		if err := s.CreateDirectory(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created directory: %s\n", args[0])
		return nil
	}},
	"mirror": {2, func(s *ftpsession.Session, p *message.Printer, out io.Writer, args []string) error {
		n, err := s.DownloadFolder(args[0], args[1])
		if err != nil {
			return err
		}
		p.Fprintf(out, "Downloaded folder '%s' (%d bytes)\n", args[0], n)
		return nil
	}},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "error: missing command")
		return exitUsage
	}
	verb, verbArgs := rest[0], rest[1:]
	c, ok := commands[verb]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n", verb)
		return exitUsage
	}
	if (c.args >= 0 && len(verbArgs) != c.args) || (c.args < 0 && len(verbArgs) > 1) {
		fmt.Fprintf(stderr, "error: wrong number of arguments for %s\n", verb)
		return exitUsage
	}

	// The logger and the progress printer share stderr.
	stderr = &lockedWriter{w: stderr}
	logger := newLogger(o.logLevel, o.logFormat, stderr)
	defer logger.Sync()

	p := message.NewPrinter(language.English)

	bcast := ftpsession.NewBroadcaster(0)
	reporters := ftpsession.MultiReporter{bcast}
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reporters = append(reporters, ftpsession.NewMetricsReporter(reg))
		stopMetrics, err := serveMetrics(o.metricsAddr, reg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitUsage
		}
		defer stopMetrics()
	}

	if o.progress {
		sub := bcast.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			p := message.NewPrinter(language.English)
			for ev := range sub {
				p.Fprintf(stderr, "%s %s %s %d/%d\n", ev.TransferID, ev.Status, ev.Filename, ev.Progress, ev.Total)
			}
		}()
		defer func() {
			bcast.Unsubscribe(sub)
			<-done
		}()
	}

	opts := []ftpsession.Option{
		ftpsession.WithLogger(logger),
		ftpsession.WithTimeout(o.timeout),
		ftpsession.WithReporter(reporters),
		ftpsession.WithTrustPolicy(ftpsession.TrustPolicy{VerifyHostIdentity: o.verifyHost}),
		ftpsession.WithBandwidthLimit(o.bandwidth),
	}
	if o.disableEPSV {
		opts = append(opts, ftpsession.WithDisableEPSV())
	}
	session, err := ftpsession.New(opts...)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	if err := session.Connect(ctx, o.cfg); err != nil {
		fmt.Fprintf(stderr, "error: %s\n", describe(err))
		return exitConnect
	}
	if session.State() == ftpsession.ConnectedSecure {
		fmt.Fprintf(stdout, "Securely connected to %s\n", o.cfg.Host)
	} else {
		fmt.Fprintf(stdout, "Connected to %s\n", o.cfg.Host)
	}

	code := exitSuccess
	if err := c.run(session, p, stdout, verbArgs); err != nil {
		fmt.Fprintf(stderr, "error: %s\n", describe(err))
		code = exitOperation
	}

	if err := session.Disconnect(); err != nil {
		logger.Warn("disconnect", zap.Error(err))
	} else {
		fmt.Fprintln(stdout, "Disconnected")
	}
	return code
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// describe prefers the server's own words when the error carries them.
func describe(err error) string {
	var opErr *ftpsession.OperationError
	if errors.As(err, &opErr) {
		msg := strings.TrimSpace(opErr.ServerMessage())
		switch {
		case msg == "":
		case opErr.Path == "":
			return fmt.Sprintf("%s: %s", opErr.Op, msg)
		default:
			return fmt.Sprintf("%s %s: %s", opErr.Op, opErr.Path, msg)
		}
	}
	return err.Error()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
