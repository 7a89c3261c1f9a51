// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contentgraph wires the content graph engine into a service and
// exposes it over HTTP.
package contentgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/config"
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
	"golang.org/x/sync/errgroup"
)

// ServiceVersion is the content graph service version.
const ServiceVersion = "0.1.0"

// Service owns the engine's components.
//
// Thread Safety: Safe for concurrent use after Start.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	dims       *dimension.Registry
	watcher    *dimension.Watcher
	types      *nodetype.Manager
	store      eventstore.Store
	registry   workspace.Registry
	proj       *projection.Projection
	commands   *command.Handler
	workspaces *workspace.Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	closed  bool
}

// NewService opens storage and builds every component from cfg. Nothing
// runs until Start.
//
// Inputs:
//
//	ctx - Bounds loading of the dimension configuration.
//	cfg - Validated configuration.
//	logger - Base logger; components add their own attributes.
//
// Outputs:
//
//	*Service - Ready to Start. Close releases storage.
//	error - Configuration, schema or storage failures.
func NewService(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Service, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, logger: logging.Component(logger, "service")}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.dims = dimension.NewRegistry(logger)
	if cfg.Dimensions.File != "" {
		dims, err := dimension.LoadFile(cfg.Dimensions.File)
		if err != nil {
			return nil, err
		}
		if _, err := s.dims.Configure(ctx, dims); err != nil {
			return nil, err
		}
		if cfg.Dimensions.Watch {
			s.watcher, err = dimension.NewWatcher(cfg.Dimensions.File, s.dims, logger,
				dimension.WithDebounce(cfg.Dimensions.Debounce))
			if err != nil {
				return nil, err
			}
		}
	}

	if s.types, err = nodetype.LoadFile(cfg.NodeTypes.File); err != nil {
		return nil, err
	}

	if s.store, err = openStore(cfg.Storage, logger); err != nil {
		return nil, err
	}
	if s.registry, err = openRegistry(cfg.Workspaces); err != nil {
		return nil, err
	}

	s.proj = projection.New(s.store, projection.Options{
		Dimensions:         s.dims,
		NodeTypes:          s.types,
		CatchupTimeout:     cfg.Projection.CatchupTimeout,
		RebuildConcurrency: cfg.Projection.RebuildConcurrency,
		Logger:             logger,
	})
	s.commands, err = command.NewHandler(command.Options{
		Store:      s.store,
		Projection: s.proj,
		Dimensions: s.dims,
		NodeTypes:  s.types,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	s.workspaces, err = workspace.NewManager(workspace.Options{
		Registry: s.registry,
		Store:    s.store,
		Commands: s.commands,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (eventstore.Store, error) {
	switch cfg.Backend {
	case "badger":
		storage := cfg.Badger
		storage.Logger = logging.Component(logger, "badger")
		return eventstore.OpenBadgerStore(eventstore.BadgerConfig{
			Storage:     storage,
			Compression: cfg.Compression,
			Logger:      logger,
		})
	case "memory", "":
		return eventstore.NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("%w: storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func openRegistry(cfg config.WorkspacesConfig) (workspace.Registry, error) {
	switch cfg.Backend {
	case "sqlite":
		return workspace.OpenSQLiteRegistry(cfg.Path)
	case "memory", "":
		return workspace.NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("%w: workspace backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// Start runs the projection consumer and the dimension watcher, then makes
// sure the root workspace exists.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("service already started or closed")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := s.proj.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("projection consumer stopped", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	s.cancel, s.group, s.started = cancel, group, true

	if s.watcher != nil {
		if err := s.watcher.Start(runCtx); err != nil {
			return err
		}
	}
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	s.logger.Info("content graph service started",
		slog.String("version", ServiceVersion),
		slog.String("storage", s.cfg.Storage.Backend),
		slog.String("workspaces", s.cfg.Workspaces.Backend),
		slog.Int("legal_points", len(s.dims.Current().Legal())))
	return nil
}

func (s *Service) ensureRoot(ctx context.Context) error {
	_, err := s.workspaces.Get(ctx, s.cfg.Workspaces.Root)
	if !errors.Is(err, workspace.ErrWorkspaceNotFound) {
		return err
	}
	_, err = s.workspaces.CreateRootWorkspace(ctx, s.cfg.Workspaces.Root, workspace.WithTitle("Live"))
	if errors.Is(err, workspace.ErrWorkspaceAlreadyExists) {
		return nil
	}
	return err
}

// Close stops background work and releases storage.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.cancel != nil {
		s.cancel()
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		s.cancel, s.started = nil, false
	}
	if s.registry != nil {
		if err := s.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close workspace registry: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Dimensions returns the dimension registry.
func (s *Service) Dimensions() *dimension.Registry { return s.dims }

// NodeTypes returns the node type manager.
func (s *Service) NodeTypes() *nodetype.Manager { return s.types }

// Store returns the event store.
func (s *Service) Store() eventstore.Store { return s.store }

// Projection returns the read model.
func (s *Service) Projection() *projection.Projection { return s.proj }

// Commands returns the command handler.
func (s *Service) Commands() *command.Handler { return s.commands }

// Workspaces returns the workspace manager.
func (s *Service) Workspaces() *workspace.Manager { return s.workspaces }
