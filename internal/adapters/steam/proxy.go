package steam

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// ProbeProxy checks that probeURL answers 200 through proxy.
func ProbeProxy(ctx context.Context, proxy, probeURL string) error {
	if proxy == "" || proxy == DirectProxy {
		return nil
	}
	resp, err := resty.New().
		SetProxy(proxy).
		SetRetryCount(0).
		R().
		SetContext(ctx).
		Get(probeURL)
	if err != nil {
		return fmt.Errorf("steam.ProbeProxy: %s: %w", proxy, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("steam.ProbeProxy: %s: status %d", proxy, resp.StatusCode())
	}
	return nil
}
