package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nicklaw5/helix/v2"

	"github.com/govdl/govdl/internal/model"
)

// Twitch probes channel liveness through the Helix Get Streams API using an
// app access token. Token acquisition (and a single refresh after a 401) is
// auth plumbing, not a probe retry.
type Twitch struct {
	mx     sync.Mutex
	client *helix.Client
	authed bool
}

// Option adjusts the underlying helix client, e.g. WithAPIBaseURL in tests.
type Option func(*helix.Options)

func WithAPIBaseURL(base string) Option {
	return func(o *helix.Options) {
		o.APIBaseURL = base
	}
}

func WithHTTPClient(c helix.HTTPClient) Option {
	return func(o *helix.Options) {
		o.HTTPClient = c
	}
}

// WithAppAccessToken pre-seeds a token, skipping the initial token request.
func WithAppAccessToken(token string) Option {
	return func(o *helix.Options) {
		o.AppAccessToken = token
	}
}

func NewTwitch(clientID, clientSecret string, opts ...Option) (*Twitch, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("twitch client credentials are required")
	}
	options := &helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	for _, opt := range opts {
		opt(options)
	}
	client, err := helix.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("initializing helix client: %w", err)
	}
	return &Twitch{client: client, authed: options.AppAccessToken != ""}, nil
}

func (p *Twitch) Platform() model.Platform {
	return model.PlatformTwitch
}

func (p *Twitch) IsLive(ctx context.Context, w model.Watch) (Liveness, error) {
	if err := ctx.Err(); err != nil {
		return Liveness{}, p.errorf(KindNetwork, err)
	}
	if err := p.ensureToken(); err != nil {
		return Liveness{}, err
	}

	resp, err := p.getStreams(w.ID)
	if err != nil {
		return Liveness{}, p.errorf(KindNetwork, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// app token expired, refresh once and try again
		p.resetToken()
		if err := p.ensureToken(); err != nil {
			return Liveness{}, err
		}
		resp, err = p.getStreams(w.ID)
		if err != nil {
			return Liveness{}, p.errorf(KindNetwork, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Liveness{}, p.errorf(KindRateLimited, fmt.Errorf("status %d: %s", resp.StatusCode, resp.ErrorMessage))
	case resp.StatusCode != http.StatusOK:
		return Liveness{}, p.errorf(KindBadResponse, fmt.Errorf("status %d: %s", resp.StatusCode, resp.ErrorMessage))
	}

	for _, stream := range resp.Data.Streams {
		if stream.Type != "live" {
			continue
		}
		return Liveness{
			Live:      true,
			TargetURL: "https://www.twitch.tv/" + w.ID,
			Title:     stream.Title,
		}, nil
	}
	return Liveness{}, nil
}

func (p *Twitch) getStreams(login string) (*helix.StreamsResponse, error) {
	return p.client.GetStreams(&helix.StreamsParams{
		UserLogins: []string{login},
		First:      1,
	})
}

func (p *Twitch) ensureToken() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.authed {
		return nil
	}
	resp, err := p.client.RequestAppAccessToken(nil)
	if err != nil {
		return p.errorf(KindAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return p.errorf(KindAuth, fmt.Errorf("requesting app access token: status %d: %s", resp.StatusCode, resp.ErrorMessage))
	}
	p.client.SetAppAccessToken(resp.Data.AccessToken)
	p.authed = true
	return nil
}

func (p *Twitch) resetToken() {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.authed = false
	p.client.SetAppAccessToken("")
}

func (p *Twitch) errorf(kind Kind, err error) *Error {
	return &Error{Kind: kind, Platform: model.PlatformTwitch, Err: err}
}
