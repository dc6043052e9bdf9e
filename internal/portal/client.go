// Package portal downloads keyword ranking workbooks from the ScaleInsights
// web portal. The portal has no API: the client logs in through the HTML
// form, keeps the session cookie, and hits the Excel export handler.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sells-group/rankings-cli/internal/resilience"
)

const (
	loginPath     = "/Identity/Account/Login"
	rankingsPath  = "/KeywordRanking"
	userAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	invalidCreds  = "Invalid login attempt"
)

// Options configures the portal client.
type Options struct {
	BaseURL         string
	Email           string
	Password        string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxRetries      int
	RequestsPerSec  int
}

// Client is a session-holding HTTP client for the portal.
type Client struct {
	opts     Options
	client   *http.Client // follows redirects, long download timeout applied per request
	noFollow *http.Client // shares the jar, never follows redirects
	limiter  *rate.Limiter
	loggedIn bool
}

// NewClient creates a portal client with a fresh cookie jar.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, eris.New("portal: base URL is required")
	}
	if opts.Email == "" || opts.Password == "" {
		return nil, eris.New("portal: email and password are required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.DownloadTimeout == 0 {
		opts.DownloadTimeout = 120 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 2
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "portal: create cookie jar")
	}

	return &Client{
		opts:   opts,
		client: &http.Client{Jar: jar, Timeout: opts.Timeout},
		noFollow: &http.Client{
			Jar:     jar,
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
	}, nil
}

// Login authenticates against the portal. It fetches the login form, carries
// every hidden input forward (CSRF token included), submits credentials, and
// then probes a protected page to confirm the session took.
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.opts.BaseURL + loginPath
	zap.L().Info("logging into portal", zap.String("email", c.opts.Email))

	body, _, err := c.get(ctx, c.client, loginURL)
	if err != nil {
		return eris.Wrap(err, "portal: fetch login page")
	}

	form, err := hiddenFormFields(body)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "portal: parse login page"))
	}
	form.Set("Input.UserName", c.opts.Email)
	form.Set("Input.Password", c.opts.Password)

	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "portal: rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "portal: create login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "portal: submit login")
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return eris.Wrap(err, "portal: read login response")
	}

	// Still on the login page with an error banner means bad credentials.
	if strings.Contains(resp.Request.URL.Path, loginPath) && resp.StatusCode == http.StatusOK {
		if strings.Contains(string(respBody), invalidCreds) {
			return resilience.NewPermanentError(eris.New("portal: login failed: invalid credentials"))
		}
	}

	// Probe a protected page without following redirects.
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "portal: rate limiter wait")
	}
	probe, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+rankingsPath, nil)
	if err != nil {
		return eris.Wrap(err, "portal: create probe request")
	}
	probe.Header.Set("User-Agent", userAgent)

	probeResp, err := c.noFollow.Do(probe)
	if err != nil {
		return eris.Wrap(err, "portal: probe protected page")
	}
	io.Copy(io.Discard, probeResp.Body)
	probeResp.Body.Close()

	if probeResp.StatusCode == http.StatusMovedPermanently || probeResp.StatusCode == http.StatusFound {
		if strings.Contains(probeResp.Header.Get("Location"), "Login") {
			return resilience.NewPermanentError(eris.New("portal: login failed: redirected back to login"))
		}
	}

	c.loggedIn = true
	zap.L().Info("portal login successful")
	return nil
}

// DownloadRankings fetches the ranking workbook for a portal country code and
// date range. An expired session triggers one re-login before the request is
// retried. Transient failures back off per the client's retry settings.
func (c *Client) DownloadRankings(ctx context.Context, countryCode, fromDate, toDate string) ([]byte, error) {
	if !c.loggedIn {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	exportURL := fmt.Sprintf("%s%s?countrycode=%s&from=%s&to=%s&handler=Excel",
		c.opts.BaseURL, rankingsPath, url.QueryEscape(countryCode),
		url.QueryEscape(fromDate), url.QueryEscape(toDate))

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.opts.MaxRetries
	cfg.InitialBackoff = 5 * time.Second
	cfg.OnRetry = resilience.RetryLogger("portal", "download_rankings")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		data, err := c.downloadOnce(ctx, exportURL, countryCode)
		if err != nil {
			// Mark every download failure retryable unless it is already
			// marked permanent (bad credentials, bad country code).
			var pe *resilience.PermanentError
			if !resilience.IsTransient(err) && !errors.As(err, &pe) {
				return nil, resilience.NewTransientError(err, 0)
			}
			return nil, err
		}
		return data, nil
	})
}

func (c *Client) downloadOnce(ctx context.Context, exportURL, countryCode string) ([]byte, error) {
	zap.L().Info("downloading rankings", zap.String("country", countryCode))

	resp, err := c.getDownload(ctx, exportURL)
	if err != nil {
		return nil, err
	}

	// A redirect to the login page means the session expired mid-run.
	if strings.Contains(resp.Request.URL.Path, "Login") {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		zap.L().Warn("portal session expired, re-logging in")
		c.loggedIn = false
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		resp, err = c.getDownload(ctx, exportURL)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("portal: download %s: unexpected status %d", countryCode, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		return nil, eris.Errorf(
			"portal: got HTML instead of a workbook for %q (expired session or unknown country code)",
			countryCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: read workbook for %s", countryCode)
	}

	zap.L().Info("downloaded rankings",
		zap.String("country", countryCode),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

// getDownload issues a GET with the long download timeout applied through
// the request context rather than the client timeout.
func (c *Client) getDownload(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "portal: rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "portal: create download request")
	}
	req.Header.Set("User-Agent", userAgent)

	// The client timeout would cut large downloads short.
	client := &http.Client{Jar: c.client.Jar}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "portal: download request")
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// get fetches a URL and returns the body.
func (c *Client) get(ctx context.Context, client *http.Client, rawURL string) ([]byte, *http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "portal: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "portal: create request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "portal: GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("portal: GET %s: status %d", rawURL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resp, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resp, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, eris.Wrap(err, "portal: read body")
	}
	return body, resp, nil
}

// hiddenFormFields parses an HTML page and returns the hidden inputs of the
// first form, which is how the portal hands out its CSRF token.
func hiddenFormFields(page []byte) (url.Values, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}

	form := findNode(doc, "form")
	if form == nil {
		return nil, eris.New("no login form on page")
	}

	fields := url.Values{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value, typ string
			for _, a := range n.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				case "type":
					typ = a.Val
				}
			}
			if typ == "hidden" && name != "" {
				fields.Set(name, value)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(form)
	return fields, nil
}

func findNode(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findNode(child, tag); found != nil {
			return found
		}
	}
	return nil
}
