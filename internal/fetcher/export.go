package fetcher

import (
	"bufio"
	"fmt"
	"io"

	"github.com/google/renameio/v2"

	"github.com/voyagen/iptvmine/internal/models"
)

// WriteM3U writes channels as an extended M3U playlist.
func WriteM3U(w io.Writer, channels []models.Channel) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("#EXTM3U\n"); err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := fmt.Fprintf(bw, "#EXTINF:-1 tvg-logo=\"%s\" group-title=\"%s\",%s\n%s\n",
			ch.LogoURL, ch.Category, ch.Name, ch.StreamURL); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ExportFile atomically replaces path with the playlist for channels.
func ExportFile(path string, channels []models.Channel) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending playlist: %w", err)
	}
	defer pending.Cleanup()

	if err := WriteM3U(pending, channels); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace playlist: %w", err)
	}
	return nil
}

// FilterByCategory returns the channels in category. "All" or "" keeps everything.
func FilterByCategory(channels []models.Channel, category string) []models.Channel {
	if category == "" || category == models.CategoryAll {
		return channels
	}
	var out []models.Channel
	for _, ch := range channels {
		if ch.Category == category {
			out = append(out, ch)
		}
	}
	return out
}
