package immich

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/natefinch/atomic"
)

const shareSeparator = "/share/"

// Client issues requests against Immich instances. One client is shared by
// all albums of a run; per-album state lives on SharedAlbum.
type Client struct {
	http *req.Client
}

func NewClient() *Client {
	return &Client{
		http: req.C().
			SetTimeout(10 * time.Minute).
			SetUserAgent("albumsync"),
	}
}

// ParseShareLink splits a share link of the form
// "https://host/share/<key>" into its base URL and access key.
func ParseShareLink(link string) (baseURL, key string, err error) {
	baseURL, key, found := strings.Cut(link, shareSeparator)
	if !found || baseURL == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidShareLink, link)
	}
	return baseURL, key, nil
}

// SharedAlbum is a live handle on one peer's shared album. It is owned by
// the edge currently processing it and must not be shared across edges.
type SharedAlbum struct {
	BaseURL string
	Key     string
	Album   Album

	http *req.Client
}

// Resolve turns a share link into a SharedAlbum by asking the instance for
// the album behind the link's access key. The asset list is not populated
// yet; call ListAssets for that.
func (c *Client) Resolve(ctx context.Context, link string) (*SharedAlbum, error) {
	baseURL, key, err := ParseShareLink(link)
	if err != nil {
		return nil, err
	}

	var parsed sharedLinkResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetSuccessResult(&parsed).
		Get(baseURL + "/api/shared-links/me")

	if err := apiError("resolve shared link", resp, err); err != nil {
		return nil, err
	}

	return &SharedAlbum{
		BaseURL: baseURL,
		Key:     key,
		Album:   parsed.Album,
		http:    c.http,
	}, nil
}

// ListAssets fetches the album's current asset list, replacing any
// previously cached one.
func (s *SharedAlbum) ListAssets(ctx context.Context) ([]Asset, error) {
	var parsed albumResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("key", s.Key).
		SetSuccessResult(&parsed).
		Get(fmt.Sprintf("%s/api/albums/%s", s.BaseURL, s.Album.ID))

	if err := apiError(fmt.Sprintf("list assets of album %q", s.Album.Name), resp, err); err != nil {
		return nil, err
	}

	s.Album.Assets = parsed.Assets
	return s.Album.Assets, nil
}

// DownloadAsset fetches the asset's original bytes and stages them under
// dir. The staged name is the asset's recorded filename, falling back to
// the response's content-disposition and finally to the asset id.
func (s *SharedAlbum) DownloadAsset(ctx context.Context, asset Asset, dir string) (string, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    s.Key,
			"edited": "true",
		}).
		Get(fmt.Sprintf("%s/api/assets/%s/original", s.BaseURL, asset.ID))

	if err := apiError(fmt.Sprintf("download %q", asset.FileName), resp, err); err != nil {
		return "", err
	}

	name := asset.FileName
	if name == "" {
		name = filenameFromDisposition(resp.GetHeader("Content-Disposition"))
	}
	if name == "" {
		name = asset.ID
	}

	dest := filepath.Join(dir, filepath.Base(name))
	if err := atomic.WriteFile(dest, bytes.NewReader(resp.Bytes())); err != nil {
		return "", fmt.Errorf("staging %q: %w", name, err)
	}

	return dest, nil
}

// UploadAsset pushes a previously staged asset to this album's instance and
// returns the id assigned to it. The asset is not part of any album until
// AttachAssets is called.
func (s *SharedAlbum) UploadAsset(ctx context.Context, asset Asset) (string, error) {
	if asset.LocalPath == "" {
		return "", fmt.Errorf("immich: upload %q: asset not staged", asset.FileName)
	}

	var parsed uploadResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("key", s.Key).
		SetFormData(map[string]string{
			"deviceId":       asset.DeviceID,
			"deviceAssetId":  asset.DeviceAssetID,
			"fileCreatedAt":  asset.FileCreatedAt,
			"fileModifiedAt": asset.FileModifiedAt,
		}).
		SetFile("assetData", asset.LocalPath).
		SetSuccessResult(&parsed).
		Post(s.BaseURL + "/api/assets")

	if err := apiError(fmt.Sprintf("upload %q", asset.FileName), resp, err); err != nil {
		return "", err
	}

	return parsed.ID, nil
}

// AttachAssets adds the given asset ids to this shared album.
func (s *SharedAlbum) AttachAssets(ctx context.Context, ids []string) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("key", s.Key).
		SetBodyJsonMarshal(map[string][]string{"ids": ids}).
		Put(fmt.Sprintf("%s/api/albums/%s/assets", s.BaseURL, s.Album.ID))

	return apiError(fmt.Sprintf("attach to album %q", s.Album.Name), resp, err)
}

// filenameFromDisposition extracts a filename from a Content-Disposition
// header, handling the extended-parameter form filename*=UTF-8''<value>.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}

	// Some servers send the bare parameter without a disposition type,
	// which mime.ParseMediaType rejects.
	if _, value, found := strings.Cut(header, "filename*="); found {
		if _, encoded, ok := strings.Cut(value, "''"); ok {
			if name, err := url.PathUnescape(encoded); err == nil {
				return name
			}
		}
	}

	return ""
}
