package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/crmsync/target-salesforce/internal/application"
	"github.com/crmsync/target-salesforce/internal/bootstrap"
)

const version = "3.0.0"

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("target-salesforce", version)
		return
	}

	log.SetOutput(os.Stderr)

	cfg, err := bootstrap.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	target, err := application.NewTarget(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Printf("Received %s, draining in-flight records...", sig)
		cancel()
	}()

	summary, err := target.Run(ctx, os.Stdin, os.Stdout)
	for stream, state := range summary {
		log.Printf("Stream %s: %d succeeded, %d failed, %d updated, %d already existing",
			stream, state.Success, state.Fail, state.Updated, state.Existing)
	}
	if err != nil {
		log.Fatalf("❌ Run aborted: %v", err)
	}
	log.Println("✅ Run completed")
}
