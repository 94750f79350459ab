// Command protostore runs the one-time bootstrap: it builds the schema
// registry from a compiled protobuf descriptor set, reconciles the live
// database with it, and replays a legacy SQL snapshot through the gateway.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/anvil-works/protostore/core/bootstrap"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/anvil-works/protostore/core/storage"
	"github.com/anvil-works/protostore/mysql"
	"github.com/anvil-works/protostore/sqlite"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

func main() {
	configPath := flag.String("config", "protostore.yaml", "path to the bootstrap config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "protostore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := registryFromDescriptorSet(cfg.DescriptorSet)
	if err != nil {
		return err
	}
	logger.Info("registry built",
		zap.Int("kinds", registry.Len()),
		zap.Uint64("fingerprint", registry.Fingerprint()))

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	var dialect storage.Dialect
	switch cfg.Driver {
	case "mysql":
		dialect = mysql.New()
	default:
		dialect = sqlite.New()
	}

	gateway, err := storage.NewGateway(db, dialect, registry, logger)
	if err != nil {
		return err
	}

	var snap *bootstrap.Snapshot
	if cfg.Snapshot != "" {
		f, err := os.Open(cfg.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to open snapshot: %w", err)
		}
		snap, err = bootstrap.ParseSnapshot(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}
		logger.Info("snapshot parsed",
			zap.Int("tables", len(snap.Tables)),
			zap.Int("rows", snap.RowCount()))
	}

	loader := bootstrap.NewLoader(db, dialect, registry, cfg.Policy, gateway, logger)
	report, err := loader.Load(context.Background(), snap)
	if report != nil {
		fmt.Println(report.String())
	}
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// registryFromDescriptorSet builds the schema registry from a compiled
// FileDescriptorSet. Every top-level message in the set becomes a record kind.
func registryFromDescriptorSet(path string) (*schema.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set: %w", err)
	}

	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor set: %w", err)
	}

	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptor set: %w", err)
	}

	var mds []protoreflect.MessageDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		msgs := fd.Messages()
		for i := 0; i < msgs.Len(); i++ {
			mds = append(mds, msgs.Get(i))
		}
		return true
	})
	return schema.RegistryFromDescriptors(mds...)
}
