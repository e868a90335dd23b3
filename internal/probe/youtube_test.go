package probe_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/govdl/govdl/internal/model"
	"github.com/govdl/govdl/internal/probe"
	"github.com/stretchr/testify/require"
)

const livePage = `<html><head><title>Big Stream - YouTube</title></head>
<body><script>var ytInitialPlayerResponse = {"videoDetails":
{"videoId":"dQw4w9WgXcQ","isLive":true,"title":"Big Stream"}};</script></body></html>`

const offlinePage = `<html><head><title>Channel - YouTube</title></head>
<body><script>var ytInitialData = {"videoId":"dQw4w9WgXcQ"};</script></body></html>`

func ytWatch() model.Watch {
	return model.Watch{Platform: model.PlatformYouTube, ID: "@Chan1"}
}

func TestYouTubeIsLive(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		status   int
		body     string
		wantLive bool
		wantKind probe.Kind
	}{
		{"live", http.StatusOK, livePage, true, ""},
		{"not_live", http.StatusOK, offlinePage, false, ""},
		{"rate_limited", http.StatusTooManyRequests, "", false, probe.KindRateLimited},
		{"not_found", http.StatusNotFound, "", false, probe.KindBadResponse},
		{"live_without_video_id", http.StatusOK, `{"isLive":true}`, false, probe.KindBadResponse},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var gotPath string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(ts.Close)

			p := probe.NewYouTube(ts.Client()).WithBaseURL(ts.URL)
			liveness, err := p.IsLive(t.Context(), ytWatch())

			require.Equal(t, "/@Chan1/live", gotPath)
			if tc.wantKind != "" {
				require.Error(t, err)
				var probeErr *probe.Error
				require.ErrorAs(t, err, &probeErr)
				require.Equal(t, tc.wantKind, probeErr.Kind)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantLive, liveness.Live)
			if tc.wantLive {
				require.Equal(t, ts.URL+"/watch?v=dQw4w9WgXcQ", liveness.TargetURL)
				require.Equal(t, "Big Stream", liveness.Title)
			}
		})
	}
}

func TestYouTubeNetworkError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from now on

	p := probe.NewYouTube(nil).WithBaseURL(ts.URL)
	_, err := p.IsLive(t.Context(), ytWatch())
	require.Error(t, err)
	var probeErr *probe.Error
	require.ErrorAs(t, err, &probeErr)
	require.Equal(t, probe.KindNetwork, probeErr.Kind)
	require.Equal(t, model.PlatformYouTube, probeErr.Platform)
	require.Error(t, errors.Unwrap(probeErr))
}
