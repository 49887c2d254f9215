package database

import (
	"context"
	"fmt"
	"sync"
)

var (
	backendMu     sync.RWMutex
	backendName   string
	backendReader func() RunReader
	backendWriter func() RunWriter
	backendClose  func() error
)

// RegisterBackend registers the run store constructors of a storage backend.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, reader func() RunReader, writer func() RunWriter, closeFn func() error) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendName = name
	backendReader = reader
	backendWriter = writer
	backendClose = closeFn
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendReader != nil
}

// BackendName returns the name of the registered backend, or "" if none.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendName
}

// GetRunReader returns a RunReader from the registered backend
func GetRunReader(ctx context.Context) (RunReader, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backendReader == nil {
		return nil, fmt.Errorf("storage backend not initialized: set DATABASE_URL, MARIADB_DSN or EIGENFACES_SQLITE_PATH")
	}
	return backendReader(), nil
}

// GetRunWriter returns a RunWriter from the registered backend
func GetRunWriter(ctx context.Context) (RunWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backendReader == nil {
		return nil, fmt.Errorf("storage backend not initialized: set DATABASE_URL, MARIADB_DSN or EIGENFACES_SQLITE_PATH")
	}
	if backendWriter == nil {
		return nil, fmt.Errorf("%s run writer not registered", backendName)
	}
	return backendWriter(), nil
}

// Close releases the registered backend and unregisters it.
func Close() error {
	backendMu.Lock()
	defer backendMu.Unlock()
	var err error
	if backendClose != nil {
		err = backendClose()
	}
	backendName = ""
	backendReader = nil
	backendWriter = nil
	backendClose = nil
	return err
}
