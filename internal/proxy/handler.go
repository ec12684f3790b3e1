package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/p2-hub/internal/blob"
	"github.com/any-hub/p2-hub/internal/content"
	"github.com/any-hub/p2-hub/internal/fetch"
	"github.com/any-hub/p2-hub/internal/hubmodule"
	"github.com/any-hub/p2-hub/internal/logging"
	"github.com/any-hub/p2-hub/internal/p2"
	"github.com/any-hub/p2-hub/internal/proxy/hooks"
	"github.com/any-hub/p2-hub/internal/server"
	"github.com/any-hub/p2-hub/internal/version"
)

// Options 汇总 Handler 的依赖。Content 与 Blobs 必填，其余字段有默认值。
type Options struct {
	Client  *http.Client
	Logger  *logrus.Logger
	Content *content.Store
	Blobs   *blob.Factory
	// MaxRetries/InitialBackoff 作用于每个 Hub 的上游 fetch.Client。
	MaxRetries     int
	InitialBackoff time.Duration
	// NewFetcher 允许测试替换上游访问，默认基于 Client 构造 fetch.Client。
	NewFetcher func(route *server.HubRoute) fetch.Fetcher
	Now        func() time.Time
}

// Handler 负责 orchestrate “分类 → 缓存查找 → 回源 → 改写/提取 → 持久化 → 响应” 的全流程，
// 对外暴露 Fiber handler。同一路径的并发回源通过 singleflight 合并。
type Handler struct {
	logger    *logrus.Logger
	content   *content.Store
	blobs     *blob.Factory
	extractor *p2.Extractor
	opts      Options
	flights   singleflight.Group
	fetchers  sync.Map // key: hub name, value: fetch.Fetcher
}

type hookState struct {
	ctx      *hooks.RequestContext
	def      hooks.Hooks
	hasHooks bool
	clean    string
	rawQuery []byte
}

// request 是单次请求在各阶段之间传递的上下文。
type request struct {
	route     *server.HubRoute
	hook      *hookState
	assetPath string
	kind      p2.AssetKind
	policy    cachePolicy
	requestID string
	started   time.Time
}

// NewHandler constructs the p2 proxy handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Content == nil {
		return nil, errors.New("content store is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("temp blob factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		logger:    opts.Logger,
		content:   opts.Content,
		blobs:     opts.Blobs,
		extractor: p2.NewExtractor(opts.Logger),
		opts:      opts,
	}, nil
}

func buildHookContext(route *server.HubRoute, c fiber.Ctx) *hooks.RequestContext {
	if route == nil {
		return &hooks.RequestContext{Method: c.Method()}
	}
	baseHost := ""
	if route.UpstreamURL != nil {
		baseHost = route.UpstreamURL.Host
	}
	return &hooks.RequestContext{
		HubName:      route.Config.Name,
		Domain:       route.Config.Domain,
		HubType:      route.Config.Type,
		ModuleKey:    route.ModuleKey,
		UpstreamHost: baseHost,
		Method:       c.Method(),
	}
}

func hasHook(def hooks.Hooks) bool {
	return def.NormalizePath != nil ||
		def.ResolveUpstream != nil ||
		def.CachePolicy != nil ||
		def.ContentType != nil
}

// Handle 执行分类、缓存查找、条件回源和最终响应，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.HubRoute) error {
	started := h.opts.Now()
	requestID := server.RequestID(c)
	method := c.Method()

	hooksDef, ok := hooks.Fetch(route.ModuleKey)
	hookCtx := buildHookContext(route, c)
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)
	cleanPath := normalizeRequestPath(server.RepositoryPath(c))
	if ok && hooksDef.NormalizePath != nil {
		newPath, newQuery := hooksDef.NormalizePath(hookCtx, cleanPath, rawQuery)
		if newPath != "" {
			cleanPath = newPath
		}
		rawQuery = newQuery
	}
	hook := &hookState{
		ctx:      hookCtx,
		def:      hooksDef,
		hasHooks: ok && hasHook(hooksDef),
		clean:    cleanPath,
		rawQuery: rawQuery,
	}

	req := &request{
		route:     route,
		hook:      hook,
		assetPath: strings.TrimPrefix(cleanPath, "/"),
		requestID: requestID,
		started:   started,
	}

	if method != http.MethodGet && method != http.MethodHead {
		h.logResult(req, "", fiber.StatusMethodNotAllowed, false, nil)
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	kind, err := p2.Classify(req.assetPath)
	if err == nil {
		err = p2.CheckRequestPath(kind, req.assetPath)
	}
	if err != nil {
		h.logResult(req, "", fiber.StatusNotFound, false, err)
		return h.writeError(c, fiber.StatusNotFound, "unsupported_asset_path")
	}
	req.kind = kind

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !h.childHostAllowed(ctx, req) {
		h.logResult(req, "", fiber.StatusForbidden, false, errors.New("child repository host not allowed"))
		return h.writeError(c, fiber.StatusForbidden, "child_host_not_allowed")
	}
	req.policy = determineCachePolicyWithHook(route, req.assetPath, method, hooksDef, ok, hookCtx)

	var cached *content.Asset
	if req.policy.allowCache {
		asset, err := h.content.FindAsset(ctx, route.Config.Name, req.assetPath)
		switch {
		case err == nil && asset.HasBlob():
			cached = asset
		case err == nil, errors.Is(err, content.ErrNotFound):
			// miss, continue
		default:
			h.logger.WithError(err).
				WithFields(logrus.Fields{"hub": route.Config.Name, "module_key": route.ModuleKey}).
				Warn("cache_get_failed")
		}
	}

	if cached != nil {
		if !req.policy.requireRevalidate || cached.CacheInfo.Fresh(h.opts.Now()) {
			if served, err := h.serveAsset(c, req, cached, true, ""); served {
				return err
			}
			cached = nil
		}
	}

	if !req.policy.allowStore {
		return h.passThrough(ctx, c, req)
	}

	asset, upstream, err := h.refresh(ctx, req, cached)
	if err != nil {
		return h.handleUpstreamFailure(c, req, cached, upstream, err)
	}
	if served, err := h.serveAsset(c, req, asset, asset == cached, upstream); served {
		return err
	}
	h.logResult(req, upstream, fiber.StatusBadGateway, false, errors.New("stored blob unreadable"))
	return h.writeError(c, fiber.StatusBadGateway, "cache_read_failed")
}

// refresh 回源获取最新内容；cached 非空时发送条件请求，304 只刷新 CacheInfo。
// 同一 Hub/路径的并发调用共享一次回源。
func (h *Handler) refresh(ctx context.Context, req *request, cached *content.Asset) (*content.Asset, string, error) {
	key := req.route.Config.Name + "\x00" + req.assetPath
	type outcome struct {
		asset    *content.Asset
		upstream string
	}

	for attempt := 0; ; attempt++ {
		value, err, _ := h.flights.Do(key, func() (interface{}, error) {
			asset, upstream, err := h.fetchAndPersist(ctx, req, cached)
			return outcome{asset: asset, upstream: upstream}, err
		})
		result, _ := value.(outcome)
		// 合并到的请求被其发起者取消时，用自己的上下文重试一次
		if err != nil && attempt == 0 && isContextError(err) && ctx.Err() == nil {
			continue
		}
		return result.asset, result.upstream, err
	}
}

func (h *Handler) fetchAndPersist(ctx context.Context, req *request, cached *content.Asset) (*content.Asset, string, error) {
	upstreamURL := resolveUpstreamURL(req.route, req.hook)
	upstream := upstreamURL.String()
	fetcher := h.fetcherFor(req.route)

	header := http.Header{}
	if cached != nil {
		applyConditionalHeaders(header, req.route.CacheStrategy.ValidationMode, cached)
	}

	resp, err := fetcher.Fetch(ctx, fetch.Request{Method: http.MethodGet, URL: upstream, Header: header})
	if err != nil {
		return nil, upstream, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		if err := h.markVerified(ctx, req, cached); err != nil {
			return nil, upstream, err
		}
		h.logger.WithFields(h.assetFields(req, "", "")).
			WithField("action", "cache_revalidated").
			Debug("upstream confirmed cached asset")
		return cached, upstream, nil
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return nil, upstream, err
	}

	body, err := h.blobs.Create(ctx, resp.Body)
	if err != nil {
		if isContextError(err) {
			return nil, upstream, err
		}
		return nil, upstream, &fetch.NetworkError{URL: upstream, Err: err}
	}
	defer body.Release()

	meta := content.BlobMeta{
		ContentType:      h.contentType(req),
		UpstreamETag:     resp.Header.Get("ETag"),
		UpstreamModified: extractModTime(resp.Header),
	}

	var asset *content.Asset
	if req.kind.IsMetadata() {
		asset, err = h.persistMetadata(ctx, req, upstreamURL, fetcher, body, meta)
	} else {
		asset, err = h.persistComponent(ctx, req, body, meta)
	}
	if err != nil {
		return nil, upstream, err
	}
	return asset, upstream, nil
}

// persistMetadata 按资源类型执行元数据改写；改写失败时记录日志并保存原始内容。
func (h *Handler) persistMetadata(
	ctx context.Context,
	req *request,
	upstreamURL *url.URL,
	fetcher fetch.Fetcher,
	body *blob.TempBlob,
	meta content.BlobMeta,
) (*content.Asset, error) {
	stored := body
	rewritten, childHosts, err := h.rewriteMetadata(ctx, req, upstreamURL, fetcher, body)
	switch {
	case err != nil && isContextError(err):
		return nil, err
	case err != nil:
		childHosts = nil
		h.logger.WithFields(h.assetFields(req, "", "")).
			WithField("action", "metadata_rewrite_failed").
			WithError(err).
			Warn("metadata rewrite skipped, storing upstream content unmodified")
	case rewritten != nil:
		defer rewritten.Release()
		stored = rewritten
	}

	asset, err := h.content.SaveAsset(ctx, content.AssetWrite{
		Repository: req.route.Config.Name,
		Path:       req.assetPath,
		Attributes: content.AssetAttributes{
			Kind:   req.kind.String(),
			Format: map[string]string{"path": req.assetPath, "extension": p2.ExtensionOf(req.assetPath)},
		},
		Blob:      stored,
		Meta:      meta,
		CacheInfo: h.verifiedNow(req),
	})
	if err != nil {
		return nil, err
	}
	if err := h.content.RecordChildHosts(ctx, req.route.Config.Name, childHosts); err != nil {
		h.logger.WithFields(h.assetFields(req, "", "")).
			WithError(err).
			Warn("child_hosts_record_failed")
	}
	return asset, nil
}

// rewriteMetadata 返回 nil 表示该类型无需改写。展平复合仓库时同时返回子仓库所在的主机。
func (h *Handler) rewriteMetadata(
	ctx context.Context,
	req *request,
	upstreamURL *url.URL,
	fetcher fetch.Fetcher,
	body *blob.TempBlob,
) (*blob.TempBlob, []string, error) {
	hub := req.route.Config
	switch {
	case req.kind == p2.AssetKindArtifactsMetadata && hub.MirrorRemovalEnabled():
		enc, err := p2.EncodingOf(req.assetPath)
		if err != nil {
			return nil, nil, err
		}
		out, err := h.rewriter(req).RemoveMirrors(ctx, body, req.assetPath, enc)
		return out, nil, err
	case req.kind.IsComposite() && hub.CompositeFlatteningEnabled():
		enc, err := p2.EncodingOf(req.assetPath)
		if err != nil {
			return nil, nil, err
		}
		var hosts []string
		seen := map[string]bool{}
		out, err := h.rewriter(req).FlattenComposite(ctx, body, p2.CompositeRequest{
			RepositoryName: hub.Name,
			BaseURL:        upstreamURL.ResolveReference(&url.URL{Path: "./"}).String(),
			Family:         p2.FamilyOf(req.kind),
			LogicalName:    req.assetPath,
			Encoding:       enc,
			Fetcher:        fetcher,
			OnLeaf: func(location string) {
				if u, err := url.Parse(location); err == nil && u.Host != "" && !seen[u.Host] {
					seen[u.Host] = true
					hosts = append(hosts, u.Host)
				}
			},
		})
		return out, hosts, err
	}
	return nil, nil, nil
}

// childHostAllowed 限制展平子仓库路径（http/<host>/...）只能访问上游主机或展平时记录过的主机。
func (h *Handler) childHostAllowed(ctx context.Context, req *request) bool {
	absolute, ok := p2.UnescapePathToURI(req.assetPath)
	if !ok {
		return true
	}
	target, err := url.Parse(absolute)
	if err != nil || target.Host == "" {
		return false
	}
	if upstream := req.route.UpstreamURL; upstream != nil && strings.EqualFold(target.Host, upstream.Host) {
		return true
	}
	known, err := h.content.ChildHostKnown(ctx, req.route.Config.Name, target.Host)
	if err != nil {
		h.logger.WithFields(h.assetFields(req, "", "")).
			WithError(err).
			Warn("child_host_lookup_failed")
		return false
	}
	return known
}

func (h *Handler) rewriter(req *request) *p2.Rewriter {
	return p2.NewRewriter(h.blobs, h.logger.WithFields(h.assetFields(req, "", "")), req.route.CompositeMaxDepth)
}

// persistComponent 提取组件身份并与路径推导的 seed 合并，组件、资源与正文在一次写入中落库。
func (h *Handler) persistComponent(ctx context.Context, req *request, body *blob.TempBlob, meta content.BlobMeta) (*content.Asset, error) {
	seed := p2.SeedFromPath(req.assetPath)
	attrs := seed
	// binary/ 下的载荷没有组件描述，身份只能来自路径
	if seed.Extension != "" {
		extracted, ok, err := h.extractor.ExtractBlob(body, seed.Extension)
		switch {
		case err != nil:
			h.logger.WithFields(h.assetFields(req, seed.ComponentName, seed.ComponentVersion)).
				WithField("action", "extract_failed").
				WithError(err).
				Warn("component attributes unavailable, using path identity")
		case ok:
			extracted.Path = seed.Path
			attrs = seed.Merge(extracted)
		}
	}

	write := content.AssetWrite{
		Repository: req.route.Config.Name,
		Path:       req.assetPath,
		Attributes: content.AssetAttributes{Kind: req.kind.String(), Format: attrs.Map()},
		Blob:       body,
		Meta:       meta,
		CacheInfo:  h.verifiedNow(req),
	}
	if attrs.HasIdentity() {
		write.Component = &content.ComponentKey{
			Name:       attrs.ComponentName,
			Version:    attrs.ComponentVersion,
			Attributes: attrs.Map(),
		}
	}
	asset, err := h.content.SaveAsset(ctx, write)
	if err != nil {
		return nil, err
	}
	h.logger.WithFields(h.assetFields(req, attrs.ComponentName, attrs.ComponentVersion)).
		WithField("action", "component_indexed").
		Debug("component asset recorded")
	return asset, nil
}

func (h *Handler) verifiedNow(req *request) content.CacheInfo {
	policy := content.PolicyFromStrategy(req.route.CacheStrategy)
	return policy.Verified(req.kind.CacheType(), h.opts.Now())
}

// markVerified 用于 304：正文未变，仅刷新 CacheInfo。
func (h *Handler) markVerified(ctx context.Context, req *request, asset *content.Asset) error {
	info := h.verifiedNow(req)
	if err := h.content.SetCacheInfo(ctx, asset.ID, info); err != nil {
		return err
	}
	asset.CacheInfo = info
	return nil
}

// handleUpstreamFailure 将回源错误映射为响应：确认不存在返回 404 并删除旧记录，
// 上游不可用时若有旧内容则返回旧内容，否则 502。
func (h *Handler) handleUpstreamFailure(c fiber.Ctx, req *request, cached *content.Asset, upstream string, err error) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if errors.Is(err, fetch.ErrNotFound) {
		if cached != nil {
			if delErr := h.content.DeleteAsset(ctx, cached.ID); delErr != nil && !errors.Is(delErr, content.ErrNotFound) {
				h.logger.WithError(delErr).
					WithFields(h.assetFields(req, "", "")).
					Warn("cache_delete_failed")
			}
		}
		h.logResult(req, upstream, fiber.StatusNotFound, false, nil)
		return h.writeError(c, fiber.StatusNotFound, "upstream_not_found")
	}

	if isContextError(err) {
		h.logResult(req, upstream, 0, false, err)
		return err
	}

	if cached != nil && isUpstreamUnavailable(err) {
		h.logger.WithFields(h.assetFields(req, "", "")).
			WithField("action", "cache_stale_served").
			WithError(err).
			Warn("upstream unavailable, serving cached content")
		if served, serveErr := h.serveAsset(c, req, cached, true, upstream); served {
			return serveErr
		}
	}

	h.logResult(req, upstream, fiber.StatusBadGateway, false, err)
	return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
}

// serveAsset 从正文存储读取并响应；正文缺失时返回 served=false 交由调用方回源。
func (h *Handler) serveAsset(c fiber.Ctx, req *request, asset *content.Asset, cacheHit bool, upstream string) (bool, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.content.OpenBlob(ctx, asset)
	if err != nil {
		h.logger.WithError(err).
			WithFields(h.assetFields(req, "", "")).
			Warn("cache_open_failed")
		return false, nil
	}
	defer result.Reader.Close()

	if upstream == "" {
		upstream = resolveUpstreamURL(req.route, req.hook).String()
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = h.contentType(req)
	}
	etag := `"` + asset.Digest + `"`

	c.Set("Content-Type", contentType)
	c.Set("ETag", etag)
	if !asset.UpstreamModified.IsZero() {
		c.Set("Last-Modified", asset.UpstreamModified.UTC().Format(http.TimeFormat))
	}
	setProxyHeaders(c, req, upstream, cacheHit)

	if err := h.content.MarkDownloaded(ctx, asset.ID, h.opts.Now()); err != nil {
		h.logger.WithError(err).
			WithFields(h.assetFields(req, "", "")).
			Warn("mark_downloaded_failed")
	}

	if etagMatches(string(c.Request().Header.Peek(fiber.HeaderIfNoneMatch)), etag) {
		c.Status(fiber.StatusNotModified)
		h.logResult(req, upstream, fiber.StatusNotModified, cacheHit, nil)
		return true, nil
	}

	c.Status(fiber.StatusOK)
	c.Response().Header.SetContentLength(int(asset.Size))
	if c.Method() == http.MethodHead {
		h.logResult(req, upstream, fiber.StatusOK, cacheHit, nil)
		return true, nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(req, upstream, fiber.StatusOK, cacheHit, err)
	if err != nil {
		return true, fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return true, nil
}

// passThrough 直接转发上游响应而不写入内容存储，用于模块 hook 禁止落盘的资源。
func (h *Handler) passThrough(ctx context.Context, c fiber.Ctx, req *request) error {
	upstream := resolveUpstreamURL(req.route, req.hook).String()
	resp, err := h.fetcherFor(req.route).Fetch(ctx, fetch.Request{Method: http.MethodGet, URL: upstream})
	if err != nil {
		return h.handleUpstreamFailure(c, req, nil, upstream, err)
	}
	defer resp.Body.Close()
	if err := fetch.CheckStatus(resp); err != nil {
		return h.handleUpstreamFailure(c, req, nil, upstream, err)
	}

	c.Set("Content-Type", h.contentType(req))
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.Set("ETag", etag)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		c.Set("Last-Modified", lm)
	}
	setProxyHeaders(c, req, upstream, false)
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		h.logResult(req, upstream, fiber.StatusOK, false, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, upstream, fiber.StatusOK, false, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read upstream failed: %v", err))
	}
	return nil
}

func setProxyHeaders(c fiber.Ctx, req *request, upstream string, cacheHit bool) {
	c.Set("X-Any-Hub-Upstream", upstream)
	c.Set("X-Any-Hub-Cache-Hit", fmt.Sprintf("%t", cacheHit))
	c.Set("X-Any-Hub-Asset-Kind", req.kind.String())
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
}

func (h *Handler) fetcherFor(route *server.HubRoute) fetch.Fetcher {
	if value, ok := h.fetchers.Load(route.Config.Name); ok {
		return value.(fetch.Fetcher)
	}
	var fetcher fetch.Fetcher
	if h.opts.NewFetcher != nil {
		fetcher = h.opts.NewFetcher(route)
	} else {
		credentialHost := ""
		if route.UpstreamURL != nil {
			credentialHost = route.UpstreamURL.Host
		}
		fetcher = fetch.New(h.opts.Client, fetch.Options{
			ProxyURL:       route.ProxyURL,
			Username:       route.Config.Username,
			Password:       route.Config.Password,
			CredentialHost: credentialHost,
			MaxRetries:     h.opts.MaxRetries,
			InitialBackoff: h.opts.InitialBackoff,
			UserAgent:      version.UserAgent(),
			Logger:         h.logger.WithField("hub", route.Config.Name),
		})
	}
	actual, _ := h.fetchers.LoadOrStore(route.Config.Name, fetcher)
	return actual.(fetch.Fetcher)
}

func (h *Handler) contentType(req *request) string {
	if req.hook != nil && req.hook.hasHooks && req.hook.def.ContentType != nil {
		if ct := req.hook.def.ContentType(req.hook.ctx, req.assetPath); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) assetFields(req *request, componentName, componentVersion string) logrus.Fields {
	fields := logging.AssetFields(req.kind.String(), req.assetPath, componentName, componentVersion)
	fields["hub"] = req.route.Config.Name
	if req.requestID != "" {
		fields["request_id"] = req.requestID
	}
	return fields
}

func (h *Handler) logResult(req *request, upstream string, status int, cacheHit bool, err error) {
	route := req.route
	fields := logging.Request{
		Hub:       route.Config.Name,
		Domain:    route.Config.Domain,
		HubType:   route.Config.Type,
		AuthMode:  route.Config.AuthMode(),
		ModuleKey: route.ModuleKey,
		RequestID: req.requestID,
		CacheHit:  cacheHit,
	}.Fields()
	logging.Merge(fields, logging.AssetFields(req.kind.String(), req.assetPath, "", ""))
	logging.Merge(fields, logrus.Fields{
		"action":          "proxy",
		"upstream":        upstream,
		"upstream_status": status,
		"elapsed_ms":      h.opts.Now().Sub(req.started).Milliseconds(),
	})
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func resolveUpstreamURL(route *server.HubRoute, hook *hookState) *url.URL {
	base := route.UpstreamURL
	clean := "/"
	var rawQuery []byte
	if hook != nil {
		if hook.clean != "" {
			clean = hook.clean
		}
		rawQuery = hook.rawQuery
		if hook.hasHooks && hook.def.ResolveUpstream != nil {
			if u := hook.def.ResolveUpstream(hook.ctx, base.String(), clean, rawQuery); u != "" {
				if parsed, err := url.Parse(u); err == nil {
					return parsed
				}
			}
		}
	}
	relative := &url.URL{Path: strings.TrimSuffix(base.Path, "/") + clean}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	return base.ResolveReference(relative)
}

// cachePolicy.allowStore 为 false 时响应直接转发，不写入内容存储。
type cachePolicy struct {
	allowCache        bool
	allowStore        bool
	requireRevalidate bool
}

func determineCachePolicyWithHook(route *server.HubRoute, assetPath string, method string, def hooks.Hooks, enabled bool, ctx *hooks.RequestContext) cachePolicy {
	base := determineCachePolicy(route, method)
	if !enabled || def.CachePolicy == nil {
		return base
	}
	updated := def.CachePolicy(ctx, assetPath, hooks.CachePolicy{
		AllowCache:        base.allowCache,
		AllowStore:        base.allowStore,
		RequireRevalidate: base.requireRevalidate,
	})
	base.allowCache = updated.AllowCache
	base.allowStore = updated.AllowStore
	base.requireRevalidate = updated.RequireRevalidate
	return base
}

// determineCachePolicy 默认所有资源都会按 TTL 再验证，模块 hook 可放宽。
func determineCachePolicy(route *server.HubRoute, method string) cachePolicy {
	if method != http.MethodGet && method != http.MethodHead {
		return cachePolicy{}
	}
	return cachePolicy{allowCache: true, allowStore: true, requireRevalidate: true}
}

func applyConditionalHeaders(header http.Header, mode hubmodule.ValidationMode, asset *content.Asset) {
	switch mode {
	case hubmodule.ValidationModeNever:
		return
	case hubmodule.ValidationModeLastModified:
	default:
		if asset.UpstreamETag != "" {
			header.Set("If-None-Match", asset.UpstreamETag)
		}
	}
	if !asset.UpstreamModified.IsZero() {
		header.Set("If-Modified-Since", asset.UpstreamModified.UTC().Format(http.TimeFormat))
	}
}

func extractModTime(header http.Header) time.Time {
	if header == nil {
		return time.Time{}
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isUpstreamUnavailable(err error) bool {
	var netErr *fetch.NetworkError
	var statusErr *fetch.StatusError
	return errors.As(err, &netErr) || errors.As(err, &statusErr)
}
