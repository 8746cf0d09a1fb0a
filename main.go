package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netarena/account"
	"netarena/config"
	"netarena/journal"
	"netarena/resource"
	"netarena/server"
	"netarena/transport"
)

// NetArena 入口：UDP 游戏服务 + HTTP 管理/观察接口
func main() {
	var (
		cfgPath  string
		udpAddr  string
		httpAddr string
		logFile  string
	)
	flag.StringVar(&cfgPath, "config", "configs/server.yaml", "path to server config (empty for defaults)")
	flag.StringVar(&udpAddr, "udp", "", "override udp_addr, e.g. :4242")
	flag.StringVar(&httpAddr, "addr", "", "override http_addr, e.g. :8080")
	flag.StringVar(&logFile, "log", "", "override log_file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if udpAddr != "" {
		cfg.UDPAddr = udpAddr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel, cfg.LogStderr); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	log := server.Log

	games, err := resource.LoadDir(cfg.GamesDir, log)
	if err != nil {
		log.Fatalf("load games from %s: %v", cfg.GamesDir, err)
	}

	var accounts server.AccountStore
	if cfg.AccountsDB != "" {
		store, err := account.Open(cfg.AccountsDB, log)
		if err != nil {
			log.Fatalf("open accounts db: %v", err)
		}
		defer store.Close()
		accounts = store
	}

	var jr *journal.Journal
	if cfg.JournalDir != "" {
		if jr, err = journal.Open(cfg.JournalDir, 0, log); err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer jr.Close()
	}

	udp, err := transport.Listen(cfg.UDPAddr, transport.Options{
		MaxDatagramSize: cfg.MaxDatagramSize,
		RecvBuffer:      cfg.RecvBuffer,
		SendBuffer:      cfg.SendBuffer,
	}, log)
	if err != nil {
		log.Fatalf("listen udp %s: %v", cfg.UDPAddr, err)
	}
	defer udp.Close()

	srv, err := server.New(server.Options{
		Config:   cfg,
		Conduit:  udp,
		Games:    games,
		Accounts: accounts,
		Journal:  jr,
		Log:      log,
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	mux := http.NewServeMux()
	// 管理与监控接口
	mux.HandleFunc("/admin/config", srv.HandleAdminConfig)
	mux.HandleFunc("/admin/rooms", srv.HandleRooms)
	mux.HandleFunc("/metrics", srv.HandleMetrics)
	mux.HandleFunc("/healthz", server.HandleHealthz)
	mux.HandleFunc("/ws/observe", srv.Hub().HandleObserve)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("NetArena http on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Infof("NetArena udp on %s, games %v", udp.LocalAddr(), games.Names())
	_ = srv.Run(ctx)

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
