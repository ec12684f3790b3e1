package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/p2-hub/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// newUpstreamTransport 为上游访问准备连接池。p2 客户端会并发下载大量组件包，
// 同一上游主机的空闲连接数与总数保持一致。
func newUpstreamTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
}

// NewUpstreamClient 构造所有 Hub 共享的 http.Client。Global.UpstreamTimeout
// 同时约束建连、响应头与整个请求；fetch.New 在 Hub 配置了 Proxy 时会克隆其 Transport。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil {
		if v := cfg.Global.UpstreamTimeout.DurationValue(); v > 0 {
			timeout = v
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(timeout),
	}
}
