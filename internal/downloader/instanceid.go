package downloader

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GenerateInstanceID returns a unique string for this process
// (hostname+pid+random). Journal claims are owned by this id.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	rnd, _, _ := strings.Cut(uuid.NewString(), "-")

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + rnd
}
