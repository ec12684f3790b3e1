package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound 表示上游确认资源不存在（404/410）。
var ErrNotFound = errors.New("upstream resource not found")

// Request 描述一次上游请求。Method 为空时使用 GET。
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response 是上游响应，Body 始终非 nil，调用方负责关闭。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
}

// Fetcher 抽象上游访问，p2 改写器与代理编排共用。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// NetworkError 表示重试耗尽后上游仍不可达。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError 表示上游返回了非预期的状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// CheckStatus 将状态码归类：200 返回 nil，404/410 包装 ErrNotFound，其余返回 *StatusError。
func CheckStatus(resp *Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.URL)
	}
	return &StatusError{URL: resp.URL, StatusCode: resp.StatusCode}
}

// Options 控制单个上游的访问方式。
type Options struct {
	// ProxyURL 非空时通过该代理访问上游。
	ProxyURL *url.URL
	Username string
	Password string
	// CredentialHost 限定凭证只发送给该主机，避免展平复合仓库时泄露到第三方站点。
	CredentialHost string
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string
	Logger         logrus.FieldLogger
}

// Client 基于共享 http.Client 实现 Fetcher。
type Client struct {
	http *http.Client
	opts Options
}

// New 构造 Client；配置了 ProxyURL 时复制一份 Transport，避免影响其它 Hub。
func New(client *http.Client, opts Options) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.ProxyURL != nil {
		transport := &http.Transport{}
		if base, ok := client.Transport.(*http.Transport); ok && base != nil {
			transport = base.Clone()
		}
		transport.Proxy = http.ProxyURL(opts.ProxyURL)
		cloned := *client
		cloned.Transport = transport
		client = &cloned
	}
	return &Client{http: client, opts: opts}
}

// Fetch 执行请求；只有网络错误会重试，任何 HTTP 响应都直接返回。
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.Reset()
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxRetries)), ctx)

	resp, err := backoff.RetryNotifyWithData(func() (*http.Response, error) {
		httpReq, err := c.build(ctx, req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return resp, nil
	}, retry, func(err error, wait time.Duration) {
		c.opts.Logger.WithFields(logrus.Fields{
			"action":   "upstream_retry",
			"upstream": req.URL,
			"wait_ms":  wait.Milliseconds(),
		}).WithError(err).Warn("upstream request failed, retrying")
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{URL: req.URL, Err: err}
	}

	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if c.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.shouldAuthenticate(httpReq.URL) {
		httpReq.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	return httpReq, nil
}

func (c *Client) shouldAuthenticate(target *url.URL) bool {
	if c.opts.Username == "" || c.opts.Password == "" {
		return false
	}
	return c.opts.CredentialHost != "" && strings.EqualFold(target.Host, c.opts.CredentialHost)
}
