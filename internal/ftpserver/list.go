package ftpserver

import (
	"fmt"
	"time"

	"audiobridge/internal/domain"
)

const recentWindow = 180 * 24 * time.Hour

// formatListLine renders an entry the way "ls -l" does, which is the
// listing format virtually every FTP client parses.
func formatListLine(e domain.VirtualEntry, now time.Time) string {
	mode := "-rw-r--r--"
	if e.IsDir() {
		mode = "drwxr-xr-x"
	}
	mod := e.ModTime.UTC()
	if mod.IsZero() {
		mod = now
	}
	var stamp string
	if age := now.Sub(mod); age < recentWindow && age > -time.Hour {
		stamp = mod.Format("Jan _2 15:04")
	} else {
		stamp = mod.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s 1 ftp ftp %12d %s %s", mode, e.Size, stamp, e.Name)
}
