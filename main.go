package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vsoc/config"
	"vsoc/db"
	"vsoc/logger"
	"vsoc/server"
)

const controlSocketPath = "/tmp/vsoc.sock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.L().Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Host:          cfg.Host,
		Port:          cfg.Port,
		DiscoveryPort: cfg.DiscoveryPort,
		WriteTimeout:  time.Duration(cfg.WriteTimeout) * time.Second,
	})

	go startControlSocket(srv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.L().Info("shutting down", zap.String("signal", sig.String()))
		srv.Shutdown("maintenance")
		os.Remove(controlSocketPath)
		logger.Sync()
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		logger.L().Fatal("server failed", zap.Error(err))
	}
}

func startControlSocket(srv *server.Server) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		logger.L().Warn("failed to create control socket", zap.Error(err))
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	logger.L().Info("control socket listening", zap.String("path", controlSocketPath))

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)
	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for response to be sent
		time.Sleep(100 * time.Millisecond)

		logger.L().Info("shutdown requested", zap.String("reason", reason))
		srv.Shutdown(reason)

		os.Remove(controlSocketPath)
		logger.Sync()
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
