// Command server opens a bitkv data directory and serves it over
// net/rpc, exactly the way the teacher's own server command did for
// core.DB.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mrkeg/bitkv"
	"github.com/mrkeg/bitkv/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server -path <data-dir>\n")
	os.Exit(1)
}

func main() {
	var (
		dbPath          = flag.String("path", "", "path to data directory")
		addr            = flag.String("addr", ":1729", "RPC listen address")
		verifyChecksums = flag.Bool("verify-checksums", false, "verify CRC32C on every get")
		rotationBytes   = flag.Int64("rotation-threshold", 1<<20, "segment rotation threshold in bytes")
	)
	flag.Parse()

	if *dbPath == "" {
		usage()
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	engine, err := bitkv.Open(*dbPath,
		bitkv.WithLogger(log),
		bitkv.WithVerifyChecksums(*verifyChecksums),
		bitkv.WithRotationThreshold(*rotationBytes),
	)
	if err != nil {
		log.Fatal("could not open database", zap.Error(err))
	}

	boundAddr, cleanup, err := remote.Start(engine, *addr, log)
	if err != nil {
		log.Fatal("could not start rpc server", zap.Error(err))
	}
	log.Info("rpc server listening", zap.String("addr", boundAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	cleanup()
}
