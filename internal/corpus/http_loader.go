package corpus

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/resilience"
)

// HTTPOptions configures an HTTPLoader.
type HTTPOptions struct {
	UserAgent        string
	Timeout          time.Duration
	MaxDocumentBytes int64
	RatePerHost      rate.Limit
	Retry            resilience.RetryConfig
}

// HTTPLoader fetches documents over HTTP(S), or from the local filesystem
// for plain paths, and segments them into passages. PDFs are split per page.
type HTTPLoader struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPLoader creates an HTTPLoader with defaults filled in.
func NewHTTPLoader(opts HTTPOptions) *HTTPLoader {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = 20 << 20
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "policy-qa/1.0"
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.LogRetry("documents", "fetch")
	}
	return &HTTPLoader{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, ref string) ([]Passage, error) {
	var (
		body        []byte
		contentType string
		err         error
	)
	if isRemote(ref) {
		body, contentType, err = l.fetch(ctx, ref)
	} else {
		body, err = l.readFile(ref)
	}
	if err != nil {
		return nil, err
	}

	var passages []Passage
	if isPDF(ref, contentType, body) {
		passages, err = pdfPassages(body)
		if err != nil {
			return nil, eris.Wrapf(err, "corpus: parse pdf %s", ref)
		}
	} else {
		passages = Segment(string(body), nil)
	}
	if len(passages) == 0 {
		return nil, eris.Errorf("corpus: %s contains no readable clauses", ref)
	}

	zap.L().Debug("document loaded",
		zap.String("ref", ref),
		zap.Int("bytes", len(body)),
		zap.Int("passages", len(passages)),
	)
	return passages, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	type result struct {
		body        []byte
		contentType string
	}
	res, err := resilience.DoVal(ctx, l.opts.Retry, func(ctx context.Context) (result, error) {
		if err := l.limiterFor(ref).Wait(ctx); err != nil {
			return result{}, eris.Wrap(err, "rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return result{}, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", l.opts.UserAgent)

		resp, err := l.client.Do(req)
		if err != nil {
			return result{}, eris.Wrapf(err, "get %s", ref)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("get %s: status %d", ref, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return result{}, resilience.NewTransientError(err, resp.StatusCode)
			}
			return result{}, err
		}

		body, err := l.readLimited(resp.Body)
		if err != nil {
			return result{}, eris.Wrapf(err, "read %s", ref)
		}
		return result{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return res.body, res.contentType, nil
}

func (l *HTTPLoader) readFile(ref string) ([]byte, error) {
	f, err := os.Open(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", ref)
	}
	defer f.Close() //nolint:errcheck
	return l.readLimited(f)
}

func (l *HTTPLoader) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, l.opts.MaxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.opts.MaxDocumentBytes {
		return nil, eris.Errorf("document exceeds %d bytes", l.opts.MaxDocumentBytes)
	}
	return body, nil
}

func (l *HTTPLoader) limiterFor(ref string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(ref); err == nil {
		host = u.Host
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.opts.RatePerHost, 1)
		l.limiters[host] = lim
	}
	return lim
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func isPDF(ref, contentType string, body []byte) bool {
	if bytes.HasPrefix(body, []byte("%PDF")) || strings.Contains(contentType, "application/pdf") {
		return true
	}
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".pdf")
}

func pdfPassages(body []byte) ([]Passage, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, err
	}
	var out []Passage
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, eris.Wrapf(err, "page %d", i)
		}
		out = append(out, Segment(text, model.IntPtr(i))...)
	}
	return out, nil
}
