package models

import (
	"context"
	"sync"
	"time"
)

// FileURLGenerator produces temporary download links for stored files.
type FileURLGenerator interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var (
	registryMu   sync.RWMutex
	urlGenerator FileURLGenerator
)

// RegisterFileURLGenerator makes File.AfterFind populate SignedURL. Passing
// nil disables it.
func RegisterFileURLGenerator(g FileURLGenerator) {
	registryMu.Lock()
	urlGenerator = g
	registryMu.Unlock()
}

func currentURLGenerator() FileURLGenerator {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return urlGenerator
}
