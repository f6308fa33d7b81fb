package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/internal/config"
	"github.com/jakechorley/relief-coordination/pkg/clients/gmailclient"
	"github.com/jakechorley/relief-coordination/pkg/core/board"
	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/notify"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/core/services"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
	"github.com/jakechorley/relief-coordination/pkg/utils"
)

// AppContext holds the application dependencies shared across all commands
type AppContext struct {
	Cfg         *config.Config
	Env         string
	Store       kv.Store
	Bus         *events.Bus
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	Sink        *notify.Sink
	Logger      *zap.Logger
	Ctx         context.Context
	// Actor is who the commands act as; the interactive session changes it
	Actor model.Actor

	gmailClient *gmailclient.Client
}

// BoardOptions returns the configured board limits
func (app *AppContext) BoardOptions() board.Options {
	return board.Options{
		AvailableLimit: app.Cfg.Board.AvailableLimit,
		MineLimit:      app.Cfg.Board.MineLimit,
	}
}

// GmailClient builds the mail client on first use. Only the digest sends
// mail, so other commands never go through the OAuth flow.
func (app *AppContext) GmailClient() (services.GmailClient, error) {
	if app.gmailClient != nil {
		return app.gmailClient, nil
	}

	app.Logger.Info("Loading OAuth client configuration")
	oauthCfg, err := config.LoadOAuthClientWithEnv(app.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth client config: %w", err)
	}

	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, err
	}

	token, err := utils.GetTokenWithFlow(app.Ctx, oauthConfig, app.Env, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth token: %w", err)
	}

	app.Logger.Info("Initializing gmail client")
	client, err := gmailclient.NewClient(app.Ctx, oauthCfg, token, app.Cfg.GmailSender)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	app.Logger.Debug("Gmail client initialized successfully")

	app.gmailClient = client
	return client, nil
}
