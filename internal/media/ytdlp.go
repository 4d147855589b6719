package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MimeLyc/fetchbot/pkg/file"
)

// ErrNoOutput is returned when yt-dlp exits cleanly without leaving a file.
var ErrNoOutput = errors.New("yt-dlp produced no file")

// AudioArgs make Download extract an mp3 instead of keeping the container.
var AudioArgs = []string{"-x", "--audio-format", "mp3"}

type YTDLP struct {
	cmd        string
	cookieFile string
}

type YTDLPOption func(*YTDLP)

// WithCookieFile passes a Netscape cookie file to every call when the file
// exists at call time.
func WithCookieFile(path string) YTDLPOption {
	return func(y *YTDLP) { y.cookieFile = path }
}

func NewYTDLP(cmd string, opts ...YTDLPOption) *YTDLP {
	if cmd == "" {
		cmd = "yt-dlp"
	}
	y := &YTDLP{cmd: cmd}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Info resolves url without downloading, selecting the best single-file
// format.
func (y *YTDLP) Info(ctx context.Context, url string, extra ...string) (*Info, error) {
	out, err := run(ctx, y.cmd, y.infoArgs(url, extra)...)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	return &info, nil
}

// Download fetches url into dir and returns the path of the produced file.
func (y *YTDLP) Download(ctx context.Context, url, dir string, extra ...string) (string, error) {
	start := time.Now().Add(-time.Second)
	if _, err := run(ctx, y.cmd, y.downloadArgs(url, dir, extra)...); err != nil {
		return "", err
	}

	path, err := file.NewestAfter(dir, start)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoOutput
	}
	return path, err
}

// Update upgrades the yt-dlp binary in place.
func (y *YTDLP) Update(ctx context.Context) error {
	_, err := run(ctx, y.cmd, "-U")
	return err
}

func (y *YTDLP) infoArgs(url string, extra []string) []string {
	args := []string{"-J", "-f", "b", "--no-playlist", "--no-warnings"}
	args = append(args, y.cookieArgs()...)
	args = append(args, extra...)
	return append(args, "--", url)
}

func (y *YTDLP) downloadArgs(url, dir string, extra []string) []string {
	args := []string{
		"-f", "b",
		"--no-playlist",
		"--no-warnings",
		"--no-mtime",
		"-P", dir,
		"-o", "%(id)s.%(ext)s",
	}
	args = append(args, y.cookieArgs()...)
	args = append(args, extra...)
	return append(args, "--", url)
}

func (y *YTDLP) cookieArgs() []string {
	if y.cookieFile == "" {
		return nil
	}
	if _, err := os.Stat(y.cookieFile); err != nil {
		return nil
	}
	return []string{"--cookies", y.cookieFile}
}
