package session

import (
	"sync"

	"github.com/google/uuid"

	"go.viam.com/rgbdview/sensor"
)

var (
	claimsMu sync.Mutex
	claims   = map[string]uuid.UUID{}
)

func claimKey(driver sensor.Driver, uri string) string {
	return driver.Name() + "|" + uri
}

// claim marks key as held by owner. It fails if another session holds it.
func claim(key string, owner uuid.UUID) bool {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if holder, ok := claims[key]; ok && holder != owner {
		return false
	}
	claims[key] = owner
	return true
}

func releaseAll(keys []string, owner uuid.UUID) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	for _, key := range keys {
		if claims[key] == owner {
			delete(claims, key)
		}
	}
}
