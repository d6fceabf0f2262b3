package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// GetApp creates a Firebase App. An empty credentialsFile falls back to
// application default credentials.
func GetApp(ctx context.Context, credentialsFile string, projectID string) (*firebase.App, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	return firebase.NewApp(ctx, cfg, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client used
// to verify agent ID tokens when AUTH_PROVIDER=firebase.
func InitFirebaseAuth(ctx context.Context, credentialsFile string, projectID string) (*firebaseauth.Client, error) {
	app, err := GetApp(ctx, credentialsFile, projectID)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}

	return fbAuth, nil
}
