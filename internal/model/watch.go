package model

import (
	"fmt"
	"strings"
)

// Platform identifies a supported livestreaming service.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTwitch  Platform = "twitch"
)

// Short platform prefixes accepted on the command line, e.g. yt:@handle.
const (
	prefixYouTube = "yt"
	prefixTwitch  = "twitch"
)

func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformTwitch
}

// Watch is one configured (platform, identifier) pair the daemon monitors
// for live status. The identifier is platform specific: a handle or channel
// path for YouTube, a login name for Twitch. Watches are immutable; the
// whole list is replaced on reload.
type Watch struct {
	Platform Platform `json:"platform" yaml:"platform"`
	ID       string   `json:"id" yaml:"id"`
}

// Key returns the identity of the watch. Two watches with the same key are
// the same channel regardless of their position in the configuration.
func (w Watch) Key() string {
	switch w.Platform {
	case PlatformYouTube:
		return prefixYouTube + ":" + w.ID
	case PlatformTwitch:
		return prefixTwitch + ":" + w.ID
	default:
		return string(w.Platform) + ":" + w.ID
	}
}

func (w Watch) String() string {
	return w.Key()
}

// ParseWatch parses the short form used on the command line:
// yt:<handle> or twitch:<login>.
func ParseWatch(s string) (Watch, error) {
	prefix, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Watch{}, fmt.Errorf("%q is not a valid channel, expected yt:<handle> or twitch:<login>", s)
	}
	switch prefix {
	case prefixYouTube:
		return Watch{Platform: PlatformYouTube, ID: id}, nil
	case prefixTwitch:
		return Watch{Platform: PlatformTwitch, ID: id}, nil
	default:
		return Watch{}, fmt.Errorf("unknown platform %q in %q", prefix, s)
	}
}
