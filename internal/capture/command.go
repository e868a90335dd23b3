package capture

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/govdl/govdl/internal/model"
)

// Files land in the output directory named after uploader, title and the
// platform video id.
const outputTemplate = "%(uploader)s - %(title)s [%(id)s].%(ext)s"

// Tool describes how the external downloader is invoked for every capture.
// The zero knobs mirror the downloader's own defaults; DefaultTool sets the
// opinionated ones.
type Tool struct {
	Command struct {
		Path    string            `mapstructure:"path"`
		Args    []string          `mapstructure:"args"`
		Env     map[string]string `mapstructure:"env"`
		Timeout time.Duration     `mapstructure:"timeout"`
	} `mapstructure:"command"`
	LiveFromStart       bool   `mapstructure:"live_from_start"`
	EmbedMetadata       bool   `mapstructure:"embed_metadata"`
	EmbedThumbnail      bool   `mapstructure:"embed_thumbnail"`
	ConcurrentFragments int    `mapstructure:"concurrent_fragments"`
	Remux               string `mapstructure:"remux"`
	CookiesFromBrowser  string `mapstructure:"cookies_from_browser"`
}

func DefaultTool() Tool {
	var t Tool
	t.Command.Path = "yt-dlp"
	t.LiveFromStart = true
	t.EmbedMetadata = true
	t.EmbedThumbnail = true
	t.Remux = "mkv"
	return t
}

// ParseTool reads the capture section from key using the global viper.
// Unset keys keep the DefaultTool values.
func ParseTool(key string) (Tool, error) {
	tool := DefaultTool()
	if err := viper.UnmarshalKey(key, &tool); err != nil {
		return Tool{}, err
	}
	if tool.Command.Path == "" {
		tool.Command.Path = "yt-dlp"
	}
	return tool, nil
}

// Env flattens the configured environment map, expanding $VAR references.
func (t Tool) Env() []string {
	if len(t.Command.Env) == 0 {
		return nil
	}
	env := make([]string, 0, len(t.Command.Env))
	for k, v := range t.Command.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

// BuildCommand assembles the subprocess invocation for one capture: the
// configured extra args, then the option flags, then target and
// destination. The tool is a black box from here on; it owns stream
// negotiation, muxing and HTTP-level retries.
func (t Tool) BuildCommand(w model.Watch, targetURL, outDir string) Command {
	args := append([]string(nil), t.Command.Args...)

	// --live-from-start only makes sense where the platform serves the
	// backlog of an ongoing broadcast; Twitch does not.
	if t.LiveFromStart && w.Platform == model.PlatformYouTube {
		args = append(args, "--live-from-start")
	}
	if t.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if t.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	args = append(args, "--no-progress")
	if t.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(t.ConcurrentFragments))
	}
	if t.CookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", t.CookiesFromBrowser)
	}
	if t.Remux != "" {
		args = append(args, "--remux-video", t.Remux)
	}
	args = append(args,
		"--write-info-json",
		"--paths", outDir,
		"--output", outputTemplate,
		targetURL,
	)

	return Command{
		Path:    t.Command.Path,
		Args:    args,
		Env:     t.Env(),
		Timeout: t.Command.Timeout,
	}
}
