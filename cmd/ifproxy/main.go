// Command ifproxy runs the interface-bound forward proxy: an HTTP/1.x
// front-end plus an optional SOCKS5 front-end, both dialing out through a
// caller-named network interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulGUZU/ifproxy/internal/app"
	"github.com/paulGUZU/ifproxy/internal/logging"
	"github.com/paulGUZU/ifproxy/pkg/config"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ifproxy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	iface := fs.String("iface", "", "network interface to bind outbound connections to (required)")
	listen := fs.String("listen", config.DefaultHTTPListen, "HTTP proxy listen address")
	socksEnabled := fs.Bool("socks5", false, "enable the SOCKS5 front-end")
	socksListen := fs.String("socks5-listen", config.DefaultSOCKS5Listen, "SOCKS5 listen address")
	socksUser := fs.String("socks5-user", "", "SOCKS5 username (requires --socks5-pass)")
	socksPass := fs.String("socks5-pass", "", "SOCKS5 password (requires --socks5-user)")
	maxConns := fs.Int("max-conns", config.DefaultMaxConns, "maximum concurrent connections")
	readTimeoutMS := fs.Int("read-timeout-ms", config.DefaultReadTimeoutMS, "header/handshake read timeout in milliseconds")
	sessionMS := fs.Int("session-timeout-ms", config.DefaultSessionMS, "session total timeout in milliseconds")
	configPath := fs.String("config", "", "optional JSON config file; flags override its values")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	if *showVersion {
		fmt.Printf("ifproxy %s\n", version)
		return exitOK
	}

	cfg := &config.Config{}
	if *configPath != "" {
		fileCfg, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ifproxy: loading --config: %v\n", err)
			return exitConfigError
		}
		cfg = fileCfg
	}

	applyFlagOverrides(fs, cfg, flagValues{
		iface:         *iface,
		listen:        *listen,
		socksEnabled:  *socksEnabled,
		socksListen:   *socksListen,
		socksUser:     *socksUser,
		socksPass:     *socksPass,
		maxConns:      *maxConns,
		readTimeoutMS: *readTimeoutMS,
		sessionMS:     *sessionMS,
	})
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ifproxy: %v\n", err)
		return exitConfigError
	}

	log := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "ifproxy: %v\n", err)
		var bindErr *app.BindError
		if errors.As(err, &bindErr) {
			return exitBindFailure
		}
		return exitConfigError
	}
	return exitOK
}

// flagValues carries parsed flag values through to cfg, applied only when
// the flag was explicitly set or differs from its zero value, so a config
// file's values aren't clobbered by unset flag defaults for booleans like
// --socks5 that default to false.
type flagValues struct {
	iface         string
	listen        string
	socksEnabled  bool
	socksListen   string
	socksUser     string
	socksPass     string
	maxConns      int
	readTimeoutMS int
	sessionMS     int
}

func applyFlagOverrides(fs *flag.FlagSet, cfg *config.Config, v flagValues) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if v.iface != "" {
		cfg.Iface = v.iface
	}
	if set["listen"] || cfg.HTTPListen == "" {
		cfg.HTTPListen = v.listen
	}
	if set["socks5"] {
		cfg.SOCKS5Enabled = v.socksEnabled
	}
	if set["socks5-listen"] || cfg.SOCKS5Listen == "" {
		cfg.SOCKS5Listen = v.socksListen
	}
	if v.socksUser != "" {
		cfg.SOCKS5User = v.socksUser
	}
	if v.socksPass != "" {
		cfg.SOCKS5Pass = v.socksPass
	}
	if set["max-conns"] || cfg.MaxConns == 0 {
		cfg.MaxConns = v.maxConns
	}
	if set["read-timeout-ms"] || cfg.ReadTimeoutMS == 0 {
		cfg.ReadTimeoutMS = v.readTimeoutMS
	}
	if set["session-timeout-ms"] || cfg.SessionMS == 0 {
		cfg.SessionMS = v.sessionMS
	}
}
