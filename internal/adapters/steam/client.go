package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRatePerSec = 2
	defaultBurst      = 5

	// DirectProxy as a bot's proxy reference disables the proxy.
	DirectProxy = "direct"
)

// Options configures every client built by a Factory.
type Options struct {
	BaseURL      string
	Timeout      time.Duration // bound on a single call
	RatePerSec   float64
	Burst        int
	ProbeURL     string        // checked through the proxy before a client is handed out; empty skips
	ProbeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = defaultRatePerSec
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	return o
}

// Client talks to the trade gateway on behalf of one bot account. Login is
// lazy and repeated after the gateway rejects the session. No call is retried
// here; the worker's next cycle is the retry.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	account string
	creds   Credentials
	log     *slog.Logger

	mu    sync.Mutex
	token string
}

var _ ports.TradingClient = (*Client)(nil)

// NewClient builds a client for identity. log receives one line per call.
func NewClient(identity domain.BotIdentity, creds Credentials, opts Options, log *slog.Logger) *Client {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("X-Api-Key", creds.APIKey)
	if proxy := identity.ProxyRef; proxy != "" && proxy != DirectProxy {
		rc.SetProxy(proxy)
	}

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		account: identity.AccountName,
		creds:   creds,
		log:     log.With("bot_id", identity.ID, "account", identity.AccountName),
	}
}

// Factory returns the ports.ClientFactory used by the registry: it loads the
// bot's credentials file, probes its proxy and builds a Client logging to the
// bot's call log.
func Factory(opts Options, callLogs ports.CallLogs) ports.ClientFactory {
	opts = opts.withDefaults()
	return func(identity domain.BotIdentity) (ports.TradingClient, error) {
		creds, err := LoadCredentials(identity.CredentialsRef)
		if err != nil {
			return nil, &domain.ProtocolError{Op: "Login", Kind: domain.ProtocolAuth, Err: err}
		}
		if opts.ProbeURL != "" && identity.ProxyRef != DirectProxy {
			ctx, cancel := context.WithTimeout(context.Background(), opts.ProbeTimeout)
			defer cancel()
			if err := ProbeProxy(ctx, identity.ProxyRef, opts.ProbeURL); err != nil {
				return nil, &domain.ProtocolError{Op: "ProbeProxy", Kind: domain.ProtocolTransient, Err: err}
			}
		}
		var log *slog.Logger
		if callLogs != nil {
			log = callLogs.Logger(identity.ID)
		}
		return NewClient(identity, creds, opts, log), nil
	}
}

// FetchIncomingOffers lists the offers other accounts sent to this bot.
func (c *Client) FetchIncomingOffers(ctx context.Context) ([]domain.Offer, error) {
	var resp offersResponse
	if err := c.call(ctx, "FetchIncomingOffers", http.MethodGet, "/offers/incoming", nil, &resp); err != nil {
		return nil, err
	}
	offers := make([]domain.Offer, 0, len(resp.Offers))
	for _, w := range resp.Offers {
		offers = append(offers, toOffer(w))
	}
	return offers, nil
}

// CancelOffer declines an incoming offer (or cancels one of ours).
func (c *Client) CancelOffer(ctx context.Context, offerID string) (bool, error) {
	var resp cancelResponse
	if err := c.call(ctx, "CancelOffer", http.MethodPost, "/offers/"+offerID+"/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Success == 1, nil
}

// FetchInventory lists the tradable items held for appID.
func (c *Client) FetchInventory(ctx context.Context, appID int) ([]domain.Item, error) {
	var resp inventoryResponse
	if err := c.call(ctx, "FetchInventory", http.MethodGet, "/inventory/"+strconv.Itoa(appID), nil, &resp); err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(resp.Items))
	for _, w := range resp.Items {
		items = append(items, toItem(w))
	}
	return items, nil
}

// SubmitOffer sends items to counterpartyID and returns the trade offer id.
func (c *Client) SubmitOffer(ctx context.Context, counterpartyID string, items []domain.Item, message string) (string, error) {
	req := sendOfferRequest{PartnerID: counterpartyID, Message: message}
	for _, it := range items {
		req.Items = append(req.Items, wireItemRef{AssetID: it.AssetID, AppID: it.AppID})
	}
	var resp sendOfferResponse
	if err := c.call(ctx, "SubmitOffer", http.MethodPost, "/offers", req, &resp); err != nil {
		return "", err
	}
	if resp.TradeOfferID == "" {
		return "", &domain.ProtocolError{Op: "SubmitOffer", Kind: domain.ProtocolRejection, Err: errors.New("gateway returned no trade offer id")}
	}
	return resp.TradeOfferID, nil
}

// QueryOfferStatus reports the remote status of a submitted offer.
func (c *Client) QueryOfferStatus(ctx context.Context, remoteOfferID string) (domain.RemoteOfferStatus, error) {
	var resp offerStatusResponse
	if err := c.call(ctx, "QueryOfferStatus", http.MethodGet, "/offers/"+remoteOfferID, nil, &resp); err != nil {
		return domain.RemoteUnknown, err
	}
	return remoteStatus(resp.State), nil
}

// call makes sure a session exists, then performs one request.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	token, err := c.session(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, op, method, path, token, body, out)
}

// session returns the current session token, logging in first if needed.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var resp loginResponse
	req := loginRequest{AccountName: c.account, Password: c.creds.Password, SharedSecret: c.creds.SharedSecret}
	if err := c.do(ctx, "Login", http.MethodPost, "/login", "", req, &resp); err != nil {
		return "", err
	}
	if resp.SessionToken == "" {
		return "", &domain.ProtocolError{Op: "Login", Kind: domain.ProtocolAuth, Err: errors.New("empty session token")}
	}
	c.token = resp.SessionToken
	c.log.Info("steam: logged in", "steamid", resp.SteamID)
	return c.token, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do performs one rate-limited request and classifies failures.
func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolTransient, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req := c.http.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	elapsed := time.Since(start)
	if err != nil {
		c.log.Warn("call failed", "op", op, "path", path, "duration_ms", elapsed.Milliseconds(), "err", err)
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolTransient, Err: err}
	}
	status := resp.StatusCode()
	c.log.Info("call", "op", op, "path", path, "status", status, "duration_ms", elapsed.Milliseconds())

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if token != "" {
			c.dropSession()
		}
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolAuth, Err: httpError(resp)}
	case status == http.StatusTooManyRequests || status >= 500:
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolTransient, Err: httpError(resp)}
	case status >= 400:
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolRejection, Err: httpError(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &domain.ProtocolError{Op: op, Kind: domain.ProtocolTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func httpError(resp *resty.Response) error {
	var e errorResponse
	if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}
