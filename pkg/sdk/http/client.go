package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type Client struct {
	client *resty.Client
}

// Options 客户端参数；零值使用默认
type Options struct {
	Timeout    time.Duration
	RetryCount int
	Proxy      string
}

func NewClient(host string, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}

	// 未设置 Proxy 时 resty 会从 HTTP_PROXY / HTTPS_PROXY 读取
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return d, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})
	if opts.Proxy != "" {
		client.SetProxy(opts.Proxy)
	}
	return &Client{client: client}
}

type RequestOptions struct {
	Headers map[string]string
	Params  map[string]any
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "updown-bot")
	return r
}

// Get 发送 GET 请求，2xx 时把响应解码到 out
func (c *Client) Get(ctx context.Context, endpoint string, opt *RequestOptions, out any) error {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
	}
	if out != nil {
		rc.SetResult(out)
	}
	resp, err := rc.Get(endpoint)
	return ParseHTTPError(resp, err)
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// StatusError 非 2xx 响应
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Temporary 429 和 5xx 可以重试
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseHTTPError 网络错误原样包装；非 2xx 返回 *StatusError
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp.IsSuccess() {
		return nil
	}
	var body any
	b := resp.Body()
	if json.Unmarshal(b, &body) != nil || body == nil {
		body = string(b)
	}
	return errors.WithStack(&StatusError{Status: resp.StatusCode(), Body: fmt.Sprint(body)})
}
