package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 5 * time.Second

// RosterSource returns the users the directory currently considers online.
type RosterSource interface {
	Online(ctx context.Context) ([]domain.UserID, error)
}

// OnlineResponse is the body of GET /api/users/online.
type OnlineResponse struct {
	Online []domain.UserID `json:"online"`
}

// HTTPRoster reads the roster from the relay directory endpoint.
type HTTPRoster struct {
	BaseURL string
	Client  *http.Client
}

func (r HTTPRoster) Online(ctx context.Context) ([]domain.UserID, error) {
	u, err := url.JoinPath(r.BaseURL, "/api/users/online")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster: unexpected status %s", resp.Status)
	}
	var body OnlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	return body.Online, nil
}

// Poller refreshes a Tracker from a RosterSource on a fixed interval.
type Poller struct {
	source   RosterSource
	tracker  *Tracker
	clock    clock.Clock
	interval time.Duration
}

func NewPoller(source RosterSource, tracker *Tracker, clk clock.Clock, interval time.Duration) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{source: source, tracker: tracker, clock: clk, interval: interval}
}

// Run polls once immediately, then every interval until ctx is done.
// A failed fetch keeps the previous roster.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	ids, err := p.source.Online(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "presence").Msg("roster refresh failed")
		}
		return
	}
	p.tracker.Replace(ids)
	log.Debug().Str("module", "presence").Int("online", len(ids)).Msg("roster refreshed")
}
