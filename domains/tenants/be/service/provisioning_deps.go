package service

import (
	"context"
)

// StorageProvisioner materializes and verifies a tenant media prefix.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type StorageProvisioner interface {
	Ensure(ctx context.Context, prefix string) (StorageProvisionResult, error)
	Check(ctx context.Context, prefix string) (StorageProvisionResult, error)
}

type StorageProvisionResult struct {
	Ready bool
}

// ProvisioningDeps groups the provisioners run after a tenant is created. A nil
// Storage leaves storage_ready false without recording an error.
type ProvisioningDeps struct {
	Storage StorageProvisioner
}
