package ftpserver

import (
	"time"

	"audiobridge/internal/domain"
)

func fileEntry(name string, size int64, mod time.Time) domain.VirtualEntry {
	return domain.NewFileEntry(name, "/"+name, size, mod)
}
