package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neighborly-auth/internal/config"
	"neighborly-auth/internal/factory"
	"neighborly-auth/internal/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		util.Init("development", "info", "console")
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	f, err := factory.NewFactory(cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router := f.Router()

	serverAddr := net.JoinHostPort("", cfg.Server.Port)
	if cfg.Server.EnableTLS {
		serverAddr = net.JoinHostPort("", cfg.Server.TLSPort)
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().TLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startWithAutoCert(f, server, cfg, router)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.String("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server, TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg)
}

// startWithAutoCert runs the production pair: port 80 for the ACME challenge
// and port 443 for the API.
func startWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, router http.Handler) {
	autoCertManager := f.TLSManager().AutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}

	httpsServer := &http.Server{
		Addr:         ":443",
		Handler:      router,
		TLSConfig:    server.TLSConfig,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		util.Info("Starting ACME challenge server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("ACME challenge server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, httpsServer, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
				err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				err = server.ListenAndServeTLS("", "")
			}
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed")
		}
	}

	f.Close()
}
