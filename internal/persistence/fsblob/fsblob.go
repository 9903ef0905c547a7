// Package fsblob offloads snapshot assets to a filesystem tree. It is the
// built-in persistence plugin; an afero.Fs backs it so tests run against an
// in-memory filesystem and deployments against the real disk.
package fsblob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/yjs/yhub/internal/persistence"
)

const pluginID = "fsblob:v1"

// Plugin stores assets at {root}/{assetID} once they exceed MinSize bytes.
// Smaller assets stay inline in the snapshot row.
type Plugin struct {
	fs      afero.Fs
	root    string
	minSize int
}

// New returns a filesystem plugin rooted at root. Assets smaller than
// minSize are declined.
func New(fs afero.Fs, root string, minSize int) *Plugin {
	return &Plugin{fs: fs, root: root, minSize: minSize}
}

func (p *Plugin) PluginID() string { return pluginID }

func (p *Plugin) path(id persistence.AssetID) string {
	return filepath.Join(p.root, filepath.FromSlash(id.String()))
}

// Store writes the asset bytes to disk and returns a retrievable marker, or
// declines small assets.
func (p *Plugin) Store(_ context.Context, id persistence.AssetID, asset persistence.Asset) (*persistence.Asset, error) {
	if len(asset.Data) < p.minSize {
		return nil, nil
	}
	path := p.path(id)
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := afero.WriteFile(p.fs, path, asset.Data, 0o644); err != nil {
		return nil, err
	}
	return &persistence.Asset{Type: persistence.AssetRetrievable, Plugin: pluginID}, nil
}

// Retrieve reads the asset bytes back for markers this plugin wrote.
func (p *Plugin) Retrieve(_ context.Context, id persistence.AssetID, marker persistence.Asset) (*persistence.Asset, error) {
	if marker.Plugin != pluginID {
		return nil, nil
	}
	data, err := afero.ReadFile(p.fs, p.path(id))
	if err != nil {
		return nil, err
	}
	a := persistence.Inline(data)
	return &a, nil
}

// Delete removes the asset file. A missing file counts as deleted.
func (p *Plugin) Delete(_ context.Context, id persistence.AssetID, marker persistence.Asset) (bool, error) {
	if marker.Plugin != pluginID {
		return false, nil
	}
	if err := p.fs.Remove(p.path(id)); err != nil && !os.IsNotExist(err) {
		return true, err
	}
	return true, nil
}
