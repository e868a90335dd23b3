package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/govdl/govdl/internal/model"
)

const (
	youtubeBaseURL = "https://www.youtube.com"
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// watch pages are a few hundred KB, anything above this is not the page
	// we are looking for
	maxProbeBody = 4 << 20
)

var (
	isLiveRx  = regexp.MustCompile(`"isLive"\s*:\s*true`)
	videoIDRx = regexp.MustCompile(`"videoId"\s*:\s*"([0-9A-Za-z_-]{11})"`)
	titleRx   = regexp.MustCompile(`<title>([^<]*)</title>`)
)

// YouTube probes a channel's /live page. YouTube redirects that page to the
// currently running broadcast when there is one; the embedded player config
// carries the isLive marker and the video id the capture tool needs.
type YouTube struct {
	client *http.Client
	base   string
}

func NewYouTube(client *http.Client) *YouTube {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &YouTube{client: client, base: youtubeBaseURL}
}

// WithBaseURL overrides the endpoint, for tests.
func (p *YouTube) WithBaseURL(base string) *YouTube {
	p.base = strings.TrimSuffix(base, "/")
	return p
}

func (p *YouTube) Platform() model.Platform {
	return model.PlatformYouTube
}

func (p *YouTube) IsLive(ctx context.Context, w model.Watch) (Liveness, error) {
	url := p.base + "/" + strings.Trim(w.ID, "/") + "/live"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Liveness{}, p.errorf(KindBadResponse, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := p.client.Do(req)
	if err != nil {
		return Liveness{}, p.errorf(KindNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Liveness{}, p.errorf(KindRateLimited, fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return Liveness{}, p.errorf(KindBadResponse, fmt.Errorf("status %s for %s", resp.Status, url))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return Liveness{}, p.errorf(KindNetwork, err)
	}
	return p.parseLivePage(body)
}

// parseLivePage extracts the liveness verdict from a /live page body.
func (p *YouTube) parseLivePage(body []byte) (Liveness, error) {
	if !isLiveRx.Match(body) {
		return Liveness{}, nil
	}
	m := videoIDRx.FindSubmatch(body)
	if m == nil {
		return Liveness{}, p.errorf(KindBadResponse, errors.New("live marker present but no video id found"))
	}
	videoID := string(m[1])

	var title string
	if tm := titleRx.FindSubmatch(body); tm != nil {
		title = strings.TrimSuffix(strings.TrimSpace(string(tm[1])), " - YouTube")
	}

	return Liveness{
		Live:      true,
		TargetURL: p.base + "/watch?v=" + videoID,
		Title:     title,
	}, nil
}

func (p *YouTube) errorf(kind Kind, err error) *Error {
	return &Error{Kind: kind, Platform: model.PlatformYouTube, Err: err}
}
