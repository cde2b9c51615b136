// Command vncbridged listens for viewer WebSocket connections, parses each
// one's join arguments, and attaches it to the shared-session gateway
// implemented by internal/viewer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/obs"
	"github.com/coredesk/vncbridge/internal/rfb"
	"github.com/coredesk/vncbridge/internal/viewer"
	"github.com/coredesk/vncbridge/internal/wire"
)

func main() {
	var (
		listen   = flag.String("listen", ":8080", "address to listen for viewer WebSocket connections on")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vncbridged: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger := obs.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := viewer.NewManager(logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/viewer", viewerHandler(ctx, mgr, logger))

	srv := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("vncbridged listening", rfb.Field{Key: "addr", Value: *listen})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("vncbridged exited", rfb.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// viewerHandler upgrades the request to a WebSocket, parses the join
// arguments from the query string, and drives one viewer's lifetime: join,
// relay inbound input events, leave on disconnect.
func viewerHandler(runCtx context.Context, mgr *viewer.Manager, logger rfb.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := make(map[string]string, len(r.URL.Query()))
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				args[key] = values[0]
			}
		}

		settings, err := config.Parse(args)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", rfb.Field{Key: "error", Value: err.Error()})
			return
		}
		defer conn.Close()

		id := uuid.New()
		sink := wire.NewWebSocketSink(id, conn)

		v, err := mgr.Join(runCtx, id, settings, sink)
		if err != nil {
			_ = sink.ClientAbort(0, err.Error())
			logger.Warn("viewer join failed", rfb.Field{Key: "error", Value: err.Error()})
			return
		}
		logger.Info("viewer joined",
			rfb.Field{Key: "viewer_id", Value: id.String()},
			rfb.Field{Key: "role", Value: v.Role.String()})
		defer mgr.Leave(id)
		defer logger.Info("viewer left", rfb.Field{Key: "viewer_id", Value: id.String()})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			in, err := wire.DecodeInput(data)
			if err != nil {
				logger.Debug("dropping malformed input message", rfb.Field{Key: "error", Value: err.Error()})
				continue
			}
			switch ev := in.(type) {
			case wire.MouseInput:
				mgr.HandleMouse(id, ev.X, ev.Y, ev.ButtonMask)
			case wire.KeyInput:
				mgr.HandleKey(id, ev.Keysym, ev.Down)
			case wire.ClipboardInput:
				mgr.HandleClipboard(id, ev.Text)
			}
		}
	}
}
