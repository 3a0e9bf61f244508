package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/backend"
	"github.com/iksnae/medichat/internal/chat"
)

// app bundles the collaborators every command needs
type app struct {
	cfg      *internal.Config
	store    internal.KVStore
	sessions *internal.SessionStore
	client   *backend.Client
	cache    *internal.CacheManager
}

// loadConfig layers the global flags over the file and environment settings
func loadConfig() (*internal.Config, error) {
	path := configPath
	if path == "" && dataDir != "" {
		path = internal.DataPaths{BasePath: dataDir}.ConfigPath()
	}

	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if apiBase != "" {
		cfg.APIBase = apiBase
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	internal.LogDebug("Using %s store, backend %s", cfg.Store, cfg.BaseURL())

	return &app{
		cfg:      cfg,
		store:    store,
		sessions: internal.NewSessionStore(store),
		client: backend.NewClient(cfg.BaseURL(),
			backend.WithTimeout(cfg.Timeout),
			backend.WithUserAgent("medichat/"+version),
		),
		cache: internal.NewCacheManager(cfg.CacheDir()),
	}, nil
}

func (a *app) newOrchestrator() *chat.Orchestrator {
	return chat.NewOrchestrator(chat.NewConversation(), a.client, a.sessions, chat.Options{
		Stream:        a.cfg.Stream,
		SyncAfterSend: a.cfg.SyncAfterSend,
		Cache:         a.cache,
		APIBase:       a.cfg.BaseURL(),
	})
}

// loadTranscript returns the current session's transcript, synced from the
// backend unless offline. A failed sync falls back to the cache.
func (a *app) loadTranscript(ctx context.Context, offline bool) (*internal.Transcript, error) {
	sessionID, ok, err := a.sessions.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoSession
	}

	if !offline {
		orch := a.newOrchestrator()
		err := internal.ShowProgress(ctx, "Syncing history", func() error {
			return orch.SyncHistory(ctx)
		})
		if err == nil {
			t := internal.NewTranscript(sessionID, "remote", orch.Conversation().Messages())
			t.Metadata.APIBase = a.cfg.BaseURL()
			return t, nil
		}
		internal.LogWarn("Failed to sync history, using cached copy: %v", err)
	}

	t, err := a.cache.LoadTranscript(sessionID)
	if err != nil {
		return nil, fmt.Errorf("no cached transcript for session %s: %w", sessionID, err)
	}
	return t, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

var errNoSession = errors.New("no conversation yet: start one with 'medichat chat'")
