package persistence

import "context"

// Plugin offloads snapshot assets to external storage. Implementations opt
// into capabilities by additionally implementing Storer, Retriever or
// Deleter; the chain probes for each capability independently.
type Plugin interface {
	// PluginID identifies the plugin in retrievable asset markers.
	PluginID() string
}

// Storer may take ownership of an asset's bytes. Returning (nil, nil)
// declines the asset and passes it to the next plugin.
type Storer interface {
	Store(ctx context.Context, id AssetID, asset Asset) (*Asset, error)
}

// Retriever resolves a retrievable marker back into bytes. Returning
// (nil, nil) declines, typically because the marker names another plugin.
type Retriever interface {
	Retrieve(ctx context.Context, id AssetID, marker Asset) (*Asset, error)
}

// Deleter removes offloaded bytes. Returns true if it owned the asset.
type Deleter interface {
	Delete(ctx context.Context, id AssetID, marker Asset) (bool, error)
}

// tryStore walks the chain; the first accepting Storer wins. Falls back to
// the inline asset unchanged.
func tryStore(ctx context.Context, plugins []Plugin, id AssetID, asset Asset) (Asset, error) {
	for _, p := range plugins {
		s, ok := p.(Storer)
		if !ok {
			continue
		}
		r, err := s.Store(ctx, id, asset)
		if err != nil {
			return Asset{}, err
		}
		if r != nil {
			return *r, nil
		}
	}
	return asset, nil
}

// tryRetrieve resolves a retrievable marker through the chain. Inline assets
// pass through untouched.
func tryRetrieve(ctx context.Context, plugins []Plugin, id AssetID, asset Asset) (Asset, error) {
	if !asset.Retrievable() {
		return asset, nil
	}
	for _, p := range plugins {
		r, ok := p.(Retriever)
		if !ok {
			continue
		}
		got, err := r.Retrieve(ctx, id, asset)
		if err != nil {
			return Asset{}, err
		}
		if got != nil {
			return *got, nil
		}
	}
	return Asset{}, &BlobRetrievalError{ID: id, Plugin: asset.Plugin}
}
