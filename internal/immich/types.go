package immich

// Asset is a single media item in a shared album. Checksum is the only
// field used to decide whether two assets hold the same content; everything
// else is metadata carried along through a transfer.
type Asset struct {
	ID             string `json:"id"`
	Checksum       string `json:"checksum"`
	FileName       string `json:"originalFileName"`
	DeviceAssetID  string `json:"deviceAssetId"`
	DeviceID       string `json:"deviceId"`
	FileCreatedAt  string `json:"fileCreatedAt"`
	FileModifiedAt string `json:"fileModifiedAt"`

	// LocalPath is set once the asset has been staged on disk.
	LocalPath string `json:"-"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"albumName"`
	Assets []Asset `json:"assets"`
}

type sharedLinkResponse struct {
	Album Album `json:"album"`
}

type albumResponse struct {
	Assets []Asset `json:"assets"`
}

type uploadResponse struct {
	ID string `json:"id"`
}
