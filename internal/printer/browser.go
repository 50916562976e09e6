package printer

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Opener hands a file to the desktop's default browser.
type Opener func(path string) error

func openInBrowser(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

const autoPrintScript = `<script>window.addEventListener("load",function(){window.print()})</script>`

// browserDocTTL is how long a browser-mode document is kept for the
// browser to load before it is pruned.
const browserDocTTL = 10 * time.Minute

// printViaBrowser writes the document into dir as a file that opens the print
// dialog on load, then hands it to open.
func printViaBrowser(open Opener, dir, document string) error {
	f, err := os.CreateTemp(dir, "receipt-*.html")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}

	doc := document
	if i := strings.LastIndex(doc, "</body>"); i >= 0 {
		doc = doc[:i] + autoPrintScript + doc[i:]
	} else {
		doc += autoPrintScript
	}
	_, err = f.WriteString(doc)
	f.Close()
	if err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("failed to write temp document: %w", err)
	}

	if err := open(f.Name()); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// pruneDocuments removes receipt files in dir older than ttl.
func pruneDocuments(dir string, ttl time.Duration, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "receipt-") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < ttl {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Printf("[printer] failed to prune %s: %v", e.Name(), err)
		}
	}
}
