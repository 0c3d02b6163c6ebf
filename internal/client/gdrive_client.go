package client

import (
	"context"
	"fmt"
	"io"

	"github.com/narrately/api/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GDriveClient uploads finished renders to a Google Drive folder
type GDriveClient struct {
	srv      *drive.Service
	folderID string
}

// PublishedFile identifies an uploaded Drive file
type PublishedFile struct {
	FileID  string `json:"file_id"`
	WebLink string `json:"web_link"`
}

// NewGDriveClient creates a Drive client from a refresh token
func NewGDriveClient(ctx context.Context, cfg *config.PublishConfig) (*GDriveClient, error) {
	if cfg.GDriveClientID == "" || cfg.GDriveClientSecret == "" || cfg.GDriveRefreshToken == "" {
		return nil, fmt.Errorf("gdrive configuration incomplete")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.GDriveClientID,
		ClientSecret: cfg.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveClient{srv: srv, folderID: cfg.GDriveFolderID}, nil
}

// Upload stores body as a Drive file named name
func (c *GDriveClient) Upload(ctx context.Context, name string, body io.Reader, contentType string) (*PublishedFile, error) {
	file := &drive.File{Name: name}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).Fields("id", "webViewLink")
	if contentType != "" {
		call = call.Media(body, googleapi.ContentType(contentType))
	} else {
		call = call.Media(body)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gdrive upload failed: %w", err)
	}

	return &PublishedFile{FileID: created.Id, WebLink: created.WebViewLink}, nil
}
