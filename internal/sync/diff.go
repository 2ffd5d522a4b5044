package sync

import "github.com/fedragon/albumsync/internal/immich"

// Missing returns the assets of source whose checksum does not appear in
// dest, preserving source order. Filenames, device identifiers and
// timestamps play no part in the comparison, and duplicate checksums on the
// source side are each carried through. Pure; never touches the network.
func Missing(source, dest []immich.Asset) []immich.Asset {
	present := make(map[string]struct{}, len(dest))
	for _, asset := range dest {
		present[asset.Checksum] = struct{}{}
	}

	var missing []immich.Asset
	for _, asset := range source {
		if _, ok := present[asset.Checksum]; !ok {
			missing = append(missing, asset)
		}
	}

	return missing
}
