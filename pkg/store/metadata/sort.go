package metadata

import (
	"sort"
)

// SortDirectories orders dirs in place according to order. Ties are broken by id.
func SortDirectories(dirs []*Directory, order Order) {
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].ID < dirs[j].ID })

	switch order {
	case OrderByName:
		sort.SliceStable(dirs, func(i, j int) bool {
			return dirs[i].NormalizedName < dirs[j].NormalizedName
		})
	case OrderByCreated:
		sort.SliceStable(dirs, func(i, j int) bool {
			return dirs[i].CreatedAt.Before(dirs[j].CreatedAt)
		})
	}
}

// SortBlobs orders blobs in place according to order. Ties are broken by id.
func SortBlobs(blobs []*Blob, order Order) {
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].ID < blobs[j].ID })

	switch order {
	case OrderByName:
		sort.SliceStable(blobs, func(i, j int) bool {
			return blobs[i].NormalizedFilename < blobs[j].NormalizedFilename
		})
	case OrderByLastModifiedDesc:
		sort.SliceStable(blobs, func(i, j int) bool {
			return blobs[i].LastModified.After(blobs[j].LastModified)
		})
	case OrderByCreated:
		sort.SliceStable(blobs, func(i, j int) bool {
			return blobs[i].CreatedAt.Before(blobs[j].CreatedAt)
		})
	}
}

// SortVariants orders variants in place according to order.
func SortVariants(variants []*Variant, order Order) {
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })

	if order == OrderByCreated {
		sort.SliceStable(variants, func(i, j int) bool {
			return variants[i].CreatedAt.Before(variants[j].CreatedAt)
		})
	}
}

// Paginate applies the offset and limit of opts to an already sorted slice.
func Paginate[T any](items []T, opts ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
