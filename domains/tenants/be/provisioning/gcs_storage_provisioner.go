package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	platformstorage "github.com/zenGate-Global/palmyra-helpdesk/platform/go/storage"
)

// GCSStorageProvisioner materializes tenant prefixes in a GCS bucket by writing
// a marker object under them.
type GCSStorageProvisioner struct {
	Client *storage.Client
	Bucket string
}

func NewGCSStorageProvisioner(client *storage.Client, bucket string) *GCSStorageProvisioner {
	if client == nil {
		panic("gcs storage provisioner requires client")
	}
	if bucket == "" {
		panic("gcs storage provisioner requires bucket")
	}
	return &GCSStorageProvisioner{Client: client, Bucket: bucket}
}

func (p *GCSStorageProvisioner) Ensure(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	name, err := markerName(prefix)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}

	obj := p.Client.Bucket(p.Bucket).Object(name)
	if _, err := obj.Attrs(ctx); err == nil {
		return service.StorageProvisionResult{Ready: true}, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("marker attrs: %w", err)
	}

	// DoesNotExist keeps concurrent Ensure calls from overwriting each other.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := w.Write([]byte{}); err != nil {
		_ = w.Close()
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("write marker: %w", err)
	}
	if err := w.Close(); err != nil && !isPreconditionFailed(err) {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("close marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

func (p *GCSStorageProvisioner) Check(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	if strings.TrimSpace(prefix) == "" {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("storage prefix is required")
	}

	bkt := p.Client.Bucket(p.Bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("bucket attrs: %w", err)
	}

	// The prefix counts as provisioned once any object lives under it.
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	_, err := it.Next()
	switch {
	case errors.Is(err, iterator.Done):
		return service.StorageProvisionResult{Ready: false}, nil
	case err != nil:
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("list prefix: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

func markerName(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("storage prefix is required")
	}
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage prefix %q is not allowed", prefix)
	}
	return strings.TrimSuffix(prefix, "/") + "/" + platformstorage.MarkerObject, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

var _ service.StorageProvisioner = (*GCSStorageProvisioner)(nil)
