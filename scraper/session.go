package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/planete-oui-connector/config"
)

const (
	startKey    = "start"
	responseKey = "response"
	statusKey   = "status"
)

// Session is a logged-in browsing session against the portal. It owns the
// cookie jar, so every request made through it carries the sign-in cookies.
// Requests are synchronous and never overlap.
type Session struct {
	baseURL   *url.URL
	collector *colly.Collector
	jar       http.CookieJar
	metrics   *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewSession builds a session for cfg.BaseURL.
func NewSession(cfg *config.Config, metrics *Metrics) (*Session, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.SetCookieJar(jar)

	s := &Session{
		baseURL:      parsed,
		collector:    collector,
		jar:          jar,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	s.configureHandlers()
	return s, nil
}

func (s *Session) configureHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(startKey, time.Now())
		atomic.AddInt64(&s.requestCount, 1)
		s.metrics.IncRequest(r.Method)
		slog.Debug("portal request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
		)
	})

	s.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny(startKey).(time.Time); ok {
			s.metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put(responseKey, r)
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		atomic.AddInt64(&s.errorCount, 1)
		statusCode := 0
		target := ""
		if r != nil {
			statusCode = r.StatusCode
			if r.Ctx != nil {
				r.Ctx.Put(statusKey, statusCode)
			}
			if r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
		}
		category := errorTypeLabel(classifyError(err, statusCode))

		s.mu.Lock()
		s.errorsByType[category]++
		s.mu.Unlock()

		slog.Error("request error",
			slog.String("url", target),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", err),
		)
		s.metrics.IncError(category)
	})
}

// Fetch GETs target and parses the body.
func (s *Session) Fetch(ctx context.Context, target string) (*goquery.Document, *colly.Response, error) {
	return s.do(ctx, http.MethodGet, target, nil)
}

// PostForm POSTs form to target and parses the body.
func (s *Session) PostForm(ctx context.Context, target string, form url.Values) (*goquery.Document, *colly.Response, error) {
	if form == nil {
		form = url.Values{}
	}
	return s.do(ctx, http.MethodPost, target, form)
}

func (s *Session) do(ctx context.Context, method, target string, form url.Values) (*goquery.Document, *colly.Response, error) {
	resp, err := s.request(ctx, method, target, form)
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", target, err)
	}
	doc.Url = resp.Request.URL
	return doc, resp, nil
}

// Download saves the body of target to dest using the session cookies.
// An existing dest is left untouched and reported as not downloaded.
func (s *Session) Download(ctx context.Context, target, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", dest, err)
	}

	resp, err := s.request(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(resp.Body); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, fmt.Errorf("save %s: %w", dest, err)
	}
	return true, nil
}

func (s *Session) request(ctx context.Context, method, target string, form url.Values) (*colly.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body io.Reader
	hdr := http.Header{}
	if form != nil {
		body = strings.NewReader(form.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	cctx := colly.NewContext()
	if err := s.collector.Request(method, target, body, cctx, hdr); err != nil {
		statusCode, _ := cctx.GetAny(statusKey).(int)
		return nil, fmt.Errorf("%s %s: %w", method, target, classifyError(err, statusCode))
	}

	resp, ok := cctx.GetAny(responseKey).(*colly.Response)
	if !ok {
		return nil, fmt.Errorf("%s %s: no response received", method, target)
	}
	return resp, nil
}

// URL returns the absolute portal URL for path.
func (s *Session) URL(path string) string {
	return s.resolve(s.baseURL, path)
}

func (s *Session) resolve(from *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return strings.TrimSuffix(s.baseURL.String(), "/") + "/" + strings.TrimPrefix(ref, "/")
	}
	return from.ResolveReference(u).String()
}

// Cookies returns the cookies the jar holds for the portal.
func (s *Session) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.baseURL)
}

// RequestCount returns the number of requests issued.
func (s *Session) RequestCount() int {
	return int(atomic.LoadInt64(&s.requestCount))
}

// ErrorCount returns the number of failed requests.
func (s *Session) ErrorCount() int {
	return int(atomic.LoadInt64(&s.errorCount))
}

// recordFailure counts a failure that did not come from the transport.
func (s *Session) recordFailure(category string) {
	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()
	s.metrics.IncError(category)
}

func (s *Session) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
