package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/rileyhilliard/gpuctl/internal/api"
	"github.com/rileyhilliard/gpuctl/internal/auth"
	"github.com/rileyhilliard/gpuctl/internal/config"
	"github.com/rileyhilliard/gpuctl/internal/errors"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/session"
)

// lookupTimeout bounds the deployment lookup done before a session starts.
const lookupTimeout = 10 * time.Second

// app carries what every deployment command needs.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	client  *api.Client
	tokens  auth.TokenSource
	metrics *session.Metrics
}

// newApp checks the API settings and builds the REST client and token source.
func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	if err := config.RequireAPI(cfg); err != nil {
		return nil, err
	}

	client := api.New(cfg.API.BaseURL)
	client.HTTPClient = &http.Client{Timeout: cfg.API.Timeout}
	client.TokenEndpoint = cfg.API.TokenEndpoint
	client.APIKey = cfg.API.APIKey

	a := &app{
		cfg:    cfg,
		log:    log,
		client: client,
		tokens: tokenSource(cfg, client),
	}
	client.Tokens = a.tokens
	return a, nil
}

// tokenSource picks where connection tokens come from. A token endpoint wins,
// then a token file (re-read per attempt so rotated tokens are picked up),
// then the static token.
func tokenSource(cfg *config.Config, client *api.Client) auth.TokenSource {
	switch {
	case cfg.API.TokenEndpoint != "":
		return client.TokenSource()
	case cfg.API.TokenFile != "":
		return auth.TokenFunc(func(ctx context.Context) (string, error) {
			token, err := cfg.ResolveToken()
			if err != nil {
				return "", err
			}
			return auth.Static(token).Token(ctx)
		})
	default:
		return auth.Static(cfg.API.Token)
	}
}

// newSession builds an idle session for one deployment channel.
func (a *app) newSession(deployment string, ch session.Channel) (*session.Manager, error) {
	m, err := session.New(deployment, ch, session.Config{
		APIBase: a.cfg.API.BaseURL,
		Tokens:  a.tokens,
		Logger:  a.log,
		Metrics: a.metrics,
		Options: a.cfg.SessionOptions(),
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot open a session to "+deployment,
			"Check the deployment id and api.base_url")
	}
	a.log.Debug("session %s: %s %s", m.ID(), ch, m.URL())
	return m, nil
}

// describe looks up the deployment for display. Lookup failures other than
// rejected credentials or an unknown id are logged and the id is used as is,
// since the socket may still be reachable.
func (a *app) describe(ctx context.Context, deployment string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	dep, err := a.client.GetDeployment(ctx, deployment)
	switch {
	case err == nil:
		return dep.DisplayName(), nil
	case auth.IsUnauthorized(err):
		return "", errors.WrapWithCode(err, errors.ErrAuth,
			"Credentials were rejected",
			"Check api.token, api.token_file or api.api_key")
	case errors.Is(err, api.ErrNotFound):
		return "", errors.WrapWithCode(err, errors.ErrAPI,
			"Deployment not found: "+deployment,
			"Check the deployment id")
	default:
		a.log.Warn("deployment lookup failed: %v", err)
		return deployment, nil
	}
}
