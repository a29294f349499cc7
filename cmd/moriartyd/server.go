package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"net/netip"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/seoulengine/moriarty/internal/cooker"
	"github.com/seoulengine/moriarty/internal/copier"
	"github.com/seoulengine/moriarty/internal/handler"
	"github.com/seoulengine/moriarty/internal/isroot"
	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/internal/watcher"
	"github.com/seoulengine/moriarty/pkg/iprange"
	"github.com/seoulengine/moriarty/pkg/proto"
	"github.com/seoulengine/moriarty/pkg/server"
)

type serverApp struct {
	ContentDir  string `help:"Root of cooked content assets." type:"existingdir" default:"." env:"MORIARTY_CONTENT_DIR"`
	ConfigDir   string `help:"Root of config assets (json, scripts)." type:"existingdir" env:"MORIARTY_CONFIG_DIR"`
	LogDir      string `help:"Root served for client log files." type:"existingdir" env:"MORIARTY_LOG_DIR"`
	SaveDir     string `help:"Root served for save games." type:"existingdir" env:"MORIARTY_SAVE_DIR"`
	ToolsBinDir string `help:"Root served for tool binaries." type:"existingdir" env:"MORIARTY_TOOLS_BIN_DIR"`
	VideosDir   string `help:"Root served for video files." type:"existingdir" env:"MORIARTY_VIDEOS_DIR"`

	ListenAddr            string          `help:"Main server listen address." default:"0.0.0.0:22180" env:"MORIARTY_LISTEN_ADDR"`
	Debug                 bool            `help:"Enable debug log messages." env:"MORIARTY_DEBUG"`
	JSONLog               bool            `help:"Output log messages in json format." env:"MORIARTY_JSON_LOG"`
	DebugServerListenAddr string          `help:"Enables debug server (with pprof) if provided." env:"MORIARTY_DEBUG_SERVER_LISTEN_ADDR"`
	ReadTimeout           time.Duration   `help:"Timeout for incoming commands. Connection will be closed on expiration." default:"10m" env:"MORIARTY_READ_TIMEOUT"`
	MaxClients            int             `help:"Limit amount of connected clients. Negative or zero means no limit." env:"MORIARTY_MAX_CLIENTS"`
	ClientWhitelist       []iprange.Range `help:"Optional client IP whitelist. Formats: single IPv4/v6 ('192.168.0.2'), IPv4/v6 CIDR ('192.168.0.0/24'), IPv4/IPv6 range ('192.168.0.1-192.168.0.255')." env:"MORIARTY_CLIENT_WHITELIST"`
	AllowWrite            bool            `help:"Allow writing/modifying filesystem operations." env:"MORIARTY_ALLOW_WRITE"`
	BufferSize            int64           `help:"Size of buffer for data transfer." type:"binsize" default:"64k" env:"MORIARTY_BUFFER_SIZE"`

	CookerBin  string   `help:"Cooker binary invoked for cook requests. Cooking is reported unsupported when empty." env:"MORIARTY_COOKER_BIN"`
	CookerArgs []string `help:"Extra arguments passed to the cooker binary before the asset path." env:"MORIARTY_COOKER_ARGS"`

	NoWatch      bool          `help:"Disable content change notifications." env:"MORIARTY_NO_WATCH"`
	WatchIgnore  []string      `help:"Glob patterns (doublestar) of paths excluded from change notifications." env:"MORIARTY_WATCH_IGNORE"`
	RenameWindow time.Duration `help:"How long a rename waits to be paired with the created path." default:"500ms" env:"MORIARTY_RENAME_WINDOW"`

	ForwardInput bool `help:"Forward runes typed on stdin to clients as keyboard events." env:"MORIARTY_FORWARD_INPUT"`
}

func (sapp *serverApp) setupLogger() {
	level := slog.LevelInfo
	if sapp.Debug {
		level = slog.LevelDebug
	}

	var slogHandler slog.Handler
	if sapp.JSONLog {
		slogHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		slogHandler = tint.NewHandler(colorable.NewColorable(os.Stdout), &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}

	slogHandler = &server.SlogContextHandler{Handler: slogHandler}

	slog.SetDefault(slog.New(slogHandler))
}

func (sapp *serverApp) setupRuntime() {
	_, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(slog.Default()))
	if err != nil {
		slog.Warn("memlimit setup failed", logutil.ErrorAttr(err))
	}
}

func (sapp *serverApp) warnRoot() {
	if isroot.IsRoot() {
		if sapp.AllowWrite {
			slog.Warn("Running as root/administrator with write access is dangerous! This may damage your data!")
		} else {
			slog.Warn("Running as root/administrator is not recommended! Please run as a regular user.")
		}
	}
}

func (sapp *serverApp) warnIPRange(listener net.Listener) {
	if len(sapp.ClientWhitelist) == 0 {
		return
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok || tcpAddr.IP.IsUnspecified() {
		return
	}

	for _, r := range sapp.ClientWhitelist {
		if r.ContainsNetIP(tcpAddr.IP) {
			return
		}
	}

	slog.Warn("Listener address is not in client whitelist. This may cause connection problems.")
}

func (sapp *serverApp) resolver() (*handler.Resolver, error) {
	return handler.NewResolver(map[proto.GameDirectory]string{
		proto.DirContent:  sapp.ContentDir,
		proto.DirConfig:   sapp.ConfigDir,
		proto.DirLog:      sapp.LogDir,
		proto.DirSave:     sapp.SaveDir,
		proto.DirToolsBin: sapp.ToolsBinDir,
		proto.DirVideos:   sapp.VideosDir,
	})
}

func (sapp *serverApp) cooker() cooker.Cooker {
	if sapp.CookerBin == "" {
		return cooker.Disabled{}
	}

	return &cooker.ExecCooker{
		Bin:    sapp.CookerBin,
		Args:   sapp.CookerArgs,
		Logger: slog.Default(),
	}
}

func (sapp *serverApp) debugServer() error {
	if sapp.DebugServerListenAddr == "" {
		return nil
	}

	socket, err := listenTCP(sapp.DebugServerListenAddr)
	if err != nil {
		return fmt.Errorf("debug server listen failed: %w", err)
	}

	slog.Info("Debug server listening...", "addr", logutil.ListenAddressValue(socket.Addr()))

	return http.Serve(socket, nil)
}

func (sapp *serverApp) server(hub *server.Hub, resolver *handler.Resolver) error {
	socket, err := listenTCP(sapp.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	sapp.warnIPRange(socket)
	slog.Info("Listening...", "addr", logutil.ListenAddressValue(socket.Addr()))

	var cop *copier.Copier
	if sapp.BufferSize > 0 {
		cop = copier.NewPooledCopier(sapp.BufferSize)
	} else {
		cop = copier.NewCopier()
	}

	s := server.Server[handler.State]{
		Handler: &handler.Handler{
			Resolver:   resolver,
			Cooker:     sapp.cooker(),
			Hub:        hub,
			Copier:     cop,
			AllowWrite: sapp.AllowWrite,
		},
		ReadTimeout: sapp.ReadTimeout,
		Logger:      slog.Default(),
	}

	if sapp.MaxClients > 0 {
		socket = netutil.LimitListener(socket, sapp.MaxClients)
	}
	socket = iprange.FilterListener(socket, sapp.ClientWhitelist)

	return s.Serve(socket)
}

// forwardInput mirrors the server operator's keyboard to clients. A game
// running on a devkit has no convenient text input; typing into the server
// console fills that gap.
func (sapp *serverApp) forwardInput(ctx context.Context, hub *server.Hub) error {
	rd := bufio.NewReader(os.Stdin)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r, _, err := rd.ReadRune()
		switch {
		case errors.Is(err, nil):
			// pass
		case errors.Is(err, io.EOF):
			slog.Info("Input forwarding stopped, stdin closed")
			return nil
		default:
			return fmt.Errorf("read stdin failed: %w", err)
		}

		if r == '\r' {
			continue
		}

		hub.BroadcastKeyboardChar(r)
	}
}

func (sapp *serverApp) Run() error {
	sapp.setupLogger()
	sapp.setupRuntime()
	sapp.warnRoot()

	resolver, err := sapp.resolver()
	if err != nil {
		return fmt.Errorf("resolver setup failed: %w", err)
	}

	hub := server.NewHub(slog.Default())

	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(sapp.debugServer)
	eg.Go(func() error { return sapp.server(hub, resolver) })

	if !sapp.NoWatch {
		w := watcher.Watcher{
			Resolver:     resolver,
			Sink:         hub,
			Ignore:       sapp.WatchIgnore,
			RenameWindow: sapp.RenameWindow,
			Logger:       slog.Default(),
		}
		eg.Go(func() error { return w.Run(ctx) })
	}

	if sapp.ForwardInput {
		eg.Go(func() error { return sapp.forwardInput(ctx, hub) })
	}

	return eg.Wait()
}

func listenTCP(addr string) (net.Listener, error) {
	// an explicit v4 address must listen with "tcp4", plain "tcp" would
	// bind the v6 wildcard on some systems

	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return net.Listen("tcp", addr)
	}

	ipAddr, err := netip.ParseAddr(host)
	if err != nil {
		return net.Listen("tcp", addr)
	}

	if ipAddr.Is4() {
		return net.Listen("tcp4", addr)
	}

	return net.Listen("tcp", addr)
}
