package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes an executable shell script that logs its arguments to
// <dir>/args and then runs body.
func fakeTool(t *testing.T, name, body string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools are not supported on windows")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\" >> '" + argsFile + "'; done\n" + body + "\n"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func readArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

const infoJSON = `{
	"id": "abc",
	"title": "Cat compilation #cats @someone",
	"uploader": "Some Channel",
	"duration": 61.5,
	"thumbnails": [
		{"url": "https://i/small.jpg", "width": 120, "height": 90},
		{"url": "https://i/medium.jpg", "resolution": "320x180"},
		{"url": "https://i/large.jpg", "width": 1280, "height": 720}
	],
	"requested_downloads": [
		{"format_id": "18", "url": "https://cdn/video.mp4", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a"}
	]
}`

func TestYTDLP_Info(t *testing.T) {
	tool, argsFile := fakeTool(t, "yt-dlp", "cat <<'JSON'\n"+infoJSON+"\nJSON")

	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File\n"), 0o644))

	y := NewYTDLP(tool, WithCookieFile(cookies))
	info, err := y.Info(context.Background(), "https://www.tiktok.com/@x/video/1", TikTokArgs...)
	require.NoError(t, err)

	assert.Equal(t, "Some Channel", info.Uploader)
	assert.InDelta(t, 61.5, info.Duration, 1e-9)
	require.Len(t, info.RequestedDownloads, 1)
	assert.True(t, info.RequestedDownloads[0].HasVideo())
	assert.True(t, info.RequestedDownloads[0].HasAudio())

	assert.Equal(t, []string{
		"-J", "-f", "b", "--no-playlist", "--no-warnings",
		"--cookies", cookies,
		"-S", "vcodec:h264",
		"--", "https://www.tiktok.com/@x/video/1",
	}, readArgs(t, argsFile))
}

func TestYTDLP_InfoSkipsMissingCookieFile(t *testing.T) {
	tool, argsFile := fakeTool(t, "yt-dlp", "echo '{}'")

	y := NewYTDLP(tool, WithCookieFile(filepath.Join(t.TempDir(), "missing.txt")))
	_, err := y.Info(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	assert.NotContains(t, readArgs(t, argsFile), "--cookies")
}

func TestYTDLP_InfoReportsStderr(t *testing.T) {
	tool, _ := fakeTool(t, "yt-dlp", "echo 'ERROR: Unsupported URL' >&2; exit 1")

	_, err := NewYTDLP(tool).Info(context.Background(), "https://example.com/v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported URL")
}

func TestYTDLP_Download(t *testing.T) {
	// The fake writes <dir>/abc.mp3 where dir follows -P.
	body := `while [ $# -gt 0 ]; do
	if [ "$1" = "-P" ]; then out="$2"; fi
	shift
done
echo data > "$out/abc.mp3"
echo partial > "$out/abc.webm.part"`
	tool, argsFile := fakeTool(t, "yt-dlp", body)
	dir := t.TempDir()

	path, err := NewYTDLP(tool).Download(context.Background(), "https://example.com/v", dir, AudioArgs...)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.mp3"), path)

	args := readArgs(t, argsFile)
	assert.Contains(t, args, "--no-mtime")
	assert.Subset(t, args, AudioArgs)
	assert.Equal(t, "https://example.com/v", args[len(args)-1])
}

func TestYTDLP_DownloadWithoutOutput(t *testing.T) {
	tool, _ := fakeTool(t, "yt-dlp", "exit 0")

	_, err := NewYTDLP(tool).Download(context.Background(), "https://example.com/v", t.TempDir())
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestYTDLP_Update(t *testing.T) {
	tool, argsFile := fakeTool(t, "yt-dlp", "exit 0")

	require.NoError(t, NewYTDLP(tool).Update(context.Background()))
	assert.Equal(t, []string{"-U"}, readArgs(t, argsFile))
}

func TestFFmpeg_Probe(t *testing.T) {
	probe, argsFile := fakeTool(t, "ffprobe",
		`echo '{"streams": [{"width": 720, "height": 1280, "duration": "14.200000"}]}'`)

	meta, err := NewFFmpeg("", probe).Probe(context.Background(), "/tmp/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, VideoMeta{Width: 720, Height: 1280, Duration: 15}, meta)
	assert.Equal(t, probeArgs("/tmp/v.mp4"), readArgs(t, argsFile))
}

func TestFFmpeg_ProbeWithoutVideoStream(t *testing.T) {
	probe, _ := fakeTool(t, "ffprobe", `echo '{"streams": []}'`)

	meta, err := NewFFmpeg("", probe).Probe(context.Background(), "/tmp/a.mp3")
	require.NoError(t, err)
	assert.Zero(t, meta)
}

func TestFFmpeg_Thumbnail(t *testing.T) {
	ffmpeg, argsFile := fakeTool(t, "ffmpeg", "exit 0")

	got, err := NewFFmpeg(ffmpeg, "").Thumbnail(context.Background(), "/tmp/dl/abc.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dl/abc.jpg", got)

	args := readArgs(t, argsFile)
	assert.Contains(t, args, "scale='min(320,iw)':-1")
	assert.Equal(t, "/tmp/dl/abc.jpg", args[len(args)-1])
}

func TestFFmpeg_MissingBinary(t *testing.T) {
	_, err := NewFFmpeg("", filepath.Join(t.TempDir(), "ffprobe")).Probe(context.Background(), "x.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe")
}

func TestPickThumbnail(t *testing.T) {
	thumbs := []Thumbnail{
		{URL: "small", Width: 120, Height: 90},
		{URL: "medium", Resolution: "320x180"},
		{URL: "broken", Resolution: "axb"},
		{URL: "large", Width: 1280, Height: 720},
	}

	got, ok := PickThumbnail(thumbs, MaxThumbnailSize)
	require.True(t, ok)
	assert.Equal(t, "medium", got.URL)

	_, ok = PickThumbnail(thumbs[3:], MaxThumbnailSize)
	assert.False(t, ok)

	_, ok = PickThumbnail(nil, MaxThumbnailSize)
	assert.False(t, ok)
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		url    string
		suffix string
		want   bool
	}{
		{"https://www.tiktok.com/@x/video/1", "tiktok.com", true},
		{"https://vm.TikTok.com/abc", "tiktok.com", true},
		{"https://music.youtube.com/watch?v=1", "music.youtube.com", true},
		{"https://www.youtube.com/watch?v=1", "music.youtube.com", false},
		{"::not a url", "tiktok.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HostMatches(tt.url, tt.suffix), tt.url)
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Cat compilation", CleanTitle("Cat compilation #cats @someone"))
	assert.Equal(t, "", CleanTitle("#only #tags"))
}
