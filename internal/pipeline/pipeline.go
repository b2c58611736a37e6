// Package pipeline is the explicit application context wiring
// Router->Retriever->Verifier->ManifestRenderer behind a single
// synchronous-in/async-out entrypoint: FetchVerifiedContent returns
// immediately with a channel of progress Messages, and the terminal
// VerifiedArtifact arrives on a second channel once the fetch completes or
// fails. There are no package-level singletons here: every field below is
// constructed once by New and threaded explicitly through every call.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wudi/arverify/internal/breaker"
	"github.com/wudi/arverify/internal/config"
	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/logging"
	"github.com/wudi/arverify/internal/manifest"
	"github.com/wudi/arverify/internal/metrics"
	"github.com/wudi/arverify/internal/perfcache"
	"github.com/wudi/arverify/internal/reference"
	"github.com/wudi/arverify/internal/retriever"
	"github.com/wudi/arverify/internal/router"
	"github.com/wudi/arverify/internal/verifier"
	"github.com/wudi/arverify/internal/wire"
)

// Context is the application's single point of wiring. The core never
// calls back into whatever embeds it: every method here is synchronous-in,
// async-out via channels or plain return values, never a callback into
// caller-owned code except the explicit, caller-supplied hooks
// (manifest.RenderOptions, name lookup).
type Context struct {
	Config   *config.Config
	Registry *gateway.Registry
	Perf     *perfcache.Cache
	Router   *router.Router
	Breakers *breaker.Manager
	Metrics  *metrics.Registry
	Resolver *reference.Resolver
	Store    *Store

	httpClient *http.Client
	classifier *verifier.CachingClassifier
	renderer   *manifest.Renderer
}

// GatewaySnapshotFunc is the caller-supplied registry snapshot source; its
// transport is the caller's business.
type GatewaySnapshotFunc func(ctx context.Context) ([]*gateway.Gateway, error)

// New wires a Context from cfg: an HTTP client, the gateway registry and
// performance cache (restored from Store if a prior run persisted one),
// the router bound to cfg's strategy, a breaker manager guarding every
// gateway, and the manifest renderer sitting on top of all of it.
func New(cfg *config.Config) (*Context, error) {
	reg := gateway.NewRegistry()
	perf := perfcache.NewCache()

	store, err := NewStore(cfg.Persistence.Path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open store: %w", err)
	}

	strategy, staticGW, err := store.Load(reg, perf)
	if err != nil {
		logging.Warn("pipeline: failed to restore persisted state, starting fresh", logging.Err(err))
	}
	if strategy == "" {
		strategy = cfg.RoutingStrategy
	}
	if staticGW == "" {
		staticGW = cfg.StaticGateway
	}

	m := metrics.New()
	breakers := breaker.NewManager(m)
	perf.OnProbe = func(fqdn string, elapsed time.Duration) {
		m.ObserveProbe(fqdn, elapsed.Seconds())
	}

	httpClient := &http.Client{Timeout: retriever.WholeArtifactTimeout}

	r := &router.Router{
		Registry:    reg,
		Perf:        perf,
		Strategy:    strategy,
		StaticURL:   staticGW,
		Prober:      httpClient,
		Breakers:    breakers,
		DefaultFQDN: cfg.DefaultGatewayFQDN,
	}

	pc := &Context{
		Config:     cfg,
		Registry:   reg,
		Perf:       perf,
		Router:     r,
		Breakers:   breakers,
		Metrics:    m,
		Store:      store,
		httpClient: httpClient,
	}

	pc.classifier = verifier.NewCachingClassifier(pc.classify, 4096, 30*time.Minute)
	pc.Resolver = reference.NewResolver(pc.resolveName, 0, 0)
	pc.renderer = &manifest.Renderer{Router: r, Client: httpClient, Classifier: pc.classifier}

	return pc, nil
}

// Close flushes persisted state and releases resources.
func (pc *Context) Close() error {
	defer pc.Store.Close()
	return pc.Store.Save(pc.Registry, pc.Perf, pc.Router.Strategy, pc.Router.StaticURL)
}

// ApplyLiveConfig re-points the already-running Router at a reloaded
// config's routing strategy and static gateway override, and swaps in its
// verification/strict-mode flags, without tearing down the registry,
// performance cache, or breaker state those changes don't affect. It is
// the callback internal/config.Watcher's OnChange hook drives on a
// successful hot-reload. Routing strategy, static gateway, default gateway
// fqdn, and the verification/strict-mode flags are the only options swapped
// live;
// benchmark interval and persistence path take effect on next restart
// since they govern already-running goroutines and open handles.
func (pc *Context) ApplyLiveConfig(cfg *config.Config) {
	pc.Router.Strategy = cfg.RoutingStrategy
	pc.Router.StaticURL = cfg.StaticGateway
	pc.Router.DefaultFQDN = cfg.DefaultGatewayFQDN
	pc.Config.VerificationEnabled = cfg.VerificationEnabled
	pc.Config.StrictMode = cfg.StrictMode
	logging.Info("pipeline: applied reloaded configuration",
		logging.String("routingStrategy", string(cfg.RoutingStrategy)))
}

// RefreshRegistry fetches a fresh snapshot through the caller-supplied
// source and replaces the registry wholesale; on failure the prior
// snapshot is retained.
func (pc *Context) RefreshRegistry(ctx context.Context, fetch GatewaySnapshotFunc) error {
	snapshot, err := fetch(ctx)
	if err != nil {
		logging.Warn("registry refresh failed, retaining prior snapshot", logging.Err(err))
		return rerrors.Wrap(rerrors.KindRegistryFetchFailed, "fetch gateways", err)
	}
	if err := pc.Registry.RefreshRegistry(snapshot); err != nil {
		logging.Warn("registry refresh rejected, retaining prior snapshot", logging.Err(err))
		return err
	}
	pc.Metrics.SetEligibleGateways(len(pc.Registry.Eligible()))
	return nil
}

// Benchmark probes the topK highest composite-score gateways among those
// that are joined and not blacklisted, penalized ones included, and returns
// the fastest fqdn observed, if any.
func (pc *Context) Benchmark(ctx context.Context, topK int) string {
	var pool []*gateway.Gateway
	for _, g := range pc.Registry.All() {
		if g.Status == gateway.StatusJoined && !pc.Registry.IsBlacklisted(g.Address) {
			pool = append(pool, g)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return router.CompositeScore(pool[i]) > router.CompositeScore(pool[j])
	})
	if len(pool) > topK {
		pool = pool[:topK]
	}
	candidates := make([]perfcache.Candidate, 0, len(pool))
	for _, g := range pool {
		candidates = append(candidates, perfcache.Candidate{
			FQDN: g.FQDN,
			URL:  fmt.Sprintf("%s://%s", g.Protocol, g.FQDN),
		})
	}
	return pc.Perf.Benchmark(ctx, pc.httpClient, candidates)
}

// resolveName is the LookupFunc backing pc.Resolver: it asks the router's
// current strategy for a gateway, then resolves the name through that
// gateway's subdomain form and reads back the X-Ar-Resolved-Id header the
// gateway contract promises for name lookups.
func (pc *Context) resolveName(ctx context.Context, label string) (wire.Hash43, error) {
	sel, err := pc.Router.Select(ctx, wire.NewNameReference(label, ""))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sel.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return "", rerrors.Wrap(rerrors.KindGatewayUnreachable, "name resolution", err)
	}
	defer resp.Body.Close()

	resolved := resp.Header.Get("X-Ar-Resolved-Id")
	if resolved == "" {
		return "", rerrors.ErrNoBinding
	}
	return wire.ParseHash43(resolved)
}

// classify is the default verifier.ClassifyFunc: a HEAD probe against the
// content's canonical id URL, classifying it bundled-item iff the gateway
// answers with the chunk-api discovery headers.
func (pc *Context) classify(h wire.Hash43) verifier.ContentKind {
	sel, err := pc.Router.Select(context.Background(), wire.NewIDReference(h))
	if err != nil {
		return verifier.KindTransaction
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodHead, sel.URL, nil)
	if err != nil {
		return verifier.KindTransaction
	}
	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return verifier.KindTransaction
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Root-Tx-Id") != "" && resp.Header.Get("X-Root-Data-Offset") != "" {
		return verifier.KindBundledItem
	}
	return verifier.KindTransaction
}

// sniffManifest decides whether a fetched body is a path-manifest by
// content inspection; the Content-Type header is not trusted for this.
func sniffManifest(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return probe.Schema == wire.SupportedSchema
}

// FetchVerifiedContent implements the full pipeline entrypoint: resolve
// ref, retrieve its bytes through the router-selected gateway, verify them,
// and; if the body is a manifest; recursively verify every leaf and
// rewrite its index. It returns immediately; progress and the terminal
// result arrive on the returned channels. The events channel is closed
// after the terminal MainContentVerificationUpdate is sent. result receives
// exactly one value once the fetch has run (nil when verification is
// disabled and the raw fetch fails), and none when the reference fails to
// parse or resolve, or when ctx is cancelled before the fetch returns.
func (pc *Context) FetchVerifiedContent(ctx context.Context, rawRef string) (<-chan Message, <-chan *VerifiedArtifact) {
	events := make(chan Message, 16)
	result := make(chan *VerifiedArtifact, 1)

	go func() {
		defer close(events)
		defer close(result)

		ctx, span := otel.Tracer("arverify/pipeline").Start(ctx, "FetchVerifiedContent")
		span.SetAttributes(attribute.String("reference", rawRef))
		defer span.End()

		ref, err := wire.ParseReference(rawRef)
		if err != nil {
			events <- Message{Kind: KindMainContentVerificationUpdate, MainVerification: &MainContentVerificationPayload{FailureReason: err.Error()}}
			return
		}

		hash, err := pc.Resolver.Resolve(ctx, ref)
		if err != nil {
			events <- Message{Kind: KindMainContentVerificationUpdate, MainVerification: &MainContentVerificationPayload{FailureReason: err.Error()}}
			return
		}
		idRef := wire.NewIDReference(hash)
		if ref.Path != "" {
			idRef.Path = ref.Path
		}

		artifact := pc.fetchAndVerify(ctx, idRef, events)
		if artifact != nil {
			span.SetAttributes(attribute.Bool("verified", artifact.Verified))
		}
		if ctx.Err() != nil {
			return
		}
		result <- artifact
	}()

	return events, result
}

// fetchAndVerify runs the router->retriever->verifier stack for a single
// Id reference, and; when the body turns out to be a manifest; hands off
// to the ManifestRenderer for fan-out.
func (pc *Context) fetchAndVerify(ctx context.Context, ref wire.ContentReference, events chan<- Message) *VerifiedArtifact {
	if !pc.Config.VerificationEnabled {
		data, contentType, err := pc.fetchRaw(ctx, ref)
		if err != nil {
			events <- Message{Kind: KindMainContentVerificationUpdate, MainVerification: &MainContentVerificationPayload{FailureReason: err.Error()}}
			return nil
		}
		art := &VerifiedArtifact{Bytes: data, ContentType: contentType, Verified: false, FailureReason: "Skipped"}
		events <- Message{Kind: KindMainContentVerificationUpdate, MainVerification: &MainContentVerificationPayload{Verified: false, FailureReason: "Skipped"}}
		return art
	}

	data, contentType, verdict := pc.retrieveAndVerify(ctx, ref, events)

	art := &VerifiedArtifact{Bytes: data, ContentType: contentType, Verified: verdict.Verified, FailureReason: verdict.Reason}

	if verdict.Verified && sniffManifest(data) {
		pc.renderManifestInto(ctx, data, events, art)
	}

	if !art.Verified && pc.Config.StrictMode {
		art.Bytes = nil
	}

	events <- Message{Kind: KindMainContentVerificationUpdate, MainVerification: &MainContentVerificationPayload{Verified: art.Verified, FailureReason: art.FailureReason}}
	return art
}

// retrieveAndVerify runs Router->Retriever->Verifier for a single id
// reference: bundled items stream through the chunk-proof verifier so no
// unverified chunk's bytes ever escape, while everything else streams
// through the whole-body hash verifier.
func (pc *Context) retrieveAndVerify(ctx context.Context, ref wire.ContentReference, events chan<- Message) ([]byte, string, verifier.Result) {
	ret := retriever.New(pc.httpClient)
	kind := pc.classifier.Classify(ref.ID)

	var data []byte
	var contentType string
	var verdict verifier.Result

	err := pc.Router.SelectWithRetry(ctx, ref, func(ctx context.Context, sel *router.Selection) error {
		if kind == verifier.KindBundledItem {
			_, _, next, ferr := ret.FetchChunkedProved(ctx, baseURLOf(sel.URL), string(ref.ID))
			if ferr == nil {
				cs := verifier.VerifyChunks(ref.ID, next)
				b, _ := io.ReadAll(cs.Reader)
				data = b
				verdict = cs.Done()
				return nil
			}
			if !rerrors.Is(ferr, rerrors.KindChunkAPIUnavailable) {
				return ferr
			}
			// This gateway doesn't expose the chunk API for the item; fall
			// back to a contiguous fetch with whole-body hash verification.
		}

		res, ferr := ret.FetchContiguous(ctx, sel.URL)
		if ferr != nil {
			return rerrors.Wrap(rerrors.KindGatewayUnreachable, "fetch failed", ferr)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			verdict = verifier.Result{Verified: false, Reason: "GatewayUnreachable"}
			return rerrors.ErrGatewayUnreachable.WithGateway(sel.URL)
		}

		hs := verifier.VerifyHash(res.Body, ref.ID, res.ContentLength)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			for p := range hs.Progress {
				events <- Message{Kind: KindProgressUpdate, Progress: &ProgressPayload{Percentage: p.Percentage, ProcessedMB: p.ProcessedMB, TotalMB: p.TotalMB}}
			}
		}()
		b, _ := io.ReadAll(hs.Reader)
		v := hs.Done()
		// Wait for the forwarder so no progress event races the terminal
		// update onto a closed events channel.
		<-forwarded
		data = b
		contentType = res.ContentType
		verdict = v
		return nil
	})

	if err != nil && verdict.Reason == "" {
		verdict = verifier.Result{Verified: false, Reason: err.Error()}
	}

	selOutcome, verOutcome := "success", "verified"
	if err != nil {
		selOutcome = "failure"
	}
	if !verdict.Verified {
		verOutcome = "failed"
	}
	pc.Metrics.RecordSelection(string(pc.Router.Strategy), selOutcome)
	pc.Metrics.RecordVerification(string(kind), verOutcome)

	return data, contentType, verdict
}

// renderManifestInto parses data as a manifest and runs the fan-out
// renderer, mutating art in place with the resulting RenderedManifest.
func (pc *Context) renderManifestInto(ctx context.Context, data []byte, events chan<- Message, art *VerifiedArtifact) {
	m, note, err := manifest.Parse(data)
	if err != nil {
		art.Verified = false
		art.FailureReason = string(rerrors.KindManifestInvalid)
		return
	}

	if note != nil && note.BypassID != "" {
		// Recovery found no usable path entries but a valid index.id: treat
		// it as a single-item retrieval instead of rendering an empty
		// manifest.
		data, contentType, verdict := pc.retrieveAndVerify(ctx, wire.NewIDReference(note.BypassID), events)
		art.Bytes = data
		art.ContentType = contentType
		art.Verified = verdict.Verified
		art.FailureReason = verdict.Reason
		art.Manifest = nil
		return
	}

	report := pc.renderer.Render(ctx, m, note, manifest.RenderOptions{
		OnProgress: func(ev manifest.ProgressEvent) {
			pc.Metrics.RecordManifestLeaf(string(ev.Status))
			events <- Message{Kind: KindResourceVerificationUpdate, ResourceVerification: &ResourceVerificationPayload{
				Reference: ev.Reference,
				Status:    string(ev.Status),
			}}
		},
	})

	rendered := &RenderedManifest{Report: report}
	if m.Index != nil {
		if binding, ok := m.Paths[m.Index.Path]; ok {
			store := manifest.NewBlobStore(m, report)
			for _, lr := range report.PerResource {
				if lr.Reference == string(binding.ID) && lr.Status == manifest.LeafVerified {
					if strings.HasPrefix(http.DetectContentType(lr.Bytes), "text/html") {
						if html, rwErr := manifest.RewriteHTML(lr.Bytes, store); rwErr == nil {
							rendered.RewrittenHTML = html
						}
					}
					break
				}
			}
		}
	}
	art.Manifest = rendered
	art.Verified = report.Total == 0 || report.Failed == 0
}

// fetchRaw performs a bare retrieval with no verification, for the
// verificationEnabled=false configuration path.
func (pc *Context) fetchRaw(ctx context.Context, ref wire.ContentReference) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := pc.Router.SelectWithRetry(ctx, ref, func(ctx context.Context, sel *router.Selection) error {
		ret := retriever.New(pc.httpClient)
		res, err := ret.FetchContiguous(ctx, sel.URL)
		if err != nil {
			return rerrors.Wrap(rerrors.KindGatewayUnreachable, "fetch failed", err)
		}
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		data = b
		contentType = res.ContentType
		return nil
	})
	return data, contentType, err
}

// baseURLOf strips the trailing "/{hash43}" segment from a fully
// constructed id-reference URL, recovering the gateway base the chunk API
// endpoints are rooted at.
func baseURLOf(fullURL string) string {
	for i := len(fullURL) - 1; i >= 0; i-- {
		if fullURL[i] == '/' {
			return fullURL[:i]
		}
	}
	return fullURL
}
