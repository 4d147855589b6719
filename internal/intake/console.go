package intake

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/MimeLyc/fetchbot/internal/service"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// ConsoleNotifier prints everything the bot would send. Delivered local
// files are copied to an output directory when one is set, since the
// originals are removed once the job ends.
type ConsoleNotifier struct {
	outDir string
	nextID atomic.Int64

	mu sync.Mutex
	w  io.Writer
}

var _ service.Notifier = (*ConsoleNotifier)(nil)

func NewConsoleNotifier(w io.Writer, outDir string) *ConsoleNotifier {
	return &ConsoleNotifier{w: w, outDir: outDir}
}

func (n *ConsoleNotifier) Reply(_ context.Context, chatID int64, text string) (service.MessageRef, error) {
	ref := service.MessageRef{ChatID: chatID, ID: n.nextID.Add(1)}
	return ref, n.printf("[chat %d] #%d %s\n", chatID, ref.ID, text)
}

func (n *ConsoleNotifier) Delete(_ context.Context, ref service.MessageRef) error {
	log.Debug("Delete message %d in chat %d", ref.ID, ref.ChatID)
	return nil
}

func (n *ConsoleNotifier) NotifyError(_ context.Context, chatID int64, text string) error {
	return n.printf("[chat %d] ERROR %s\n", chatID, text)
}

func (n *ConsoleNotifier) Deliver(_ context.Context, chatID int64, d service.Delivery) error {
	location := d.URL
	if d.Path != "" {
		location = d.Path
		if n.outDir != "" {
			saved, err := copyInto(n.outDir, d.Path)
			if err != nil {
				return fmt.Errorf("save %s: %w", d.Path, err)
			}
			location = saved
		}
	}
	return n.printf("[chat %d] %s %q (%ds) %s\n", chatID, d.Kind, d.Title, d.Duration, location)
}

func (n *ConsoleNotifier) printf(format string, args ...any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, format, args...)
	return err
}

func copyInto(dir, src string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}
