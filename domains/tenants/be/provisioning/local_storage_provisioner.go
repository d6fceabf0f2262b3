package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
)

// LocalStorageProvisioner materializes tenant prefixes as directories under BasePath.
type LocalStorageProvisioner struct {
	BasePath string
}

func NewLocalStorageProvisioner(basePath string) *LocalStorageProvisioner {
	if basePath == "" {
		panic("local storage provisioner requires basePath")
	}
	return &LocalStorageProvisioner{BasePath: basePath}
}

func (p *LocalStorageProvisioner) Ensure(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	name, err := markerName(prefix)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}
	marker := filepath.Join(p.BasePath, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("create prefix path: %w", err)
	}
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("write marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("close marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

func (p *LocalStorageProvisioner) Check(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	name, err := markerName(prefix)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}
	_, err = os.Stat(filepath.Join(p.BasePath, filepath.FromSlash(name)))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return service.StorageProvisionResult{Ready: false}, nil
	case err != nil:
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("stat marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

var _ service.StorageProvisioner = (*LocalStorageProvisioner)(nil)
