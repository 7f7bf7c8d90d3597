package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/server"
)

func main() {
	port := flag.String("port", "", "Listen port (overrides PORT)")
	targetOrigin := flag.String("target", "", "Target origin to mirror (overrides TARGET_ORIGIN)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *targetOrigin != "" {
		cfg.Target.Origin = *targetOrigin
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
