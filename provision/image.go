package provision

import (
	"regexp"

	"github.com/forgeline/latentpool/types"
)

// ResolveImage picks exactly one image from the catalog for the given
// selector. The pick is deterministic: newest registration wins, image
// id breaks ties.
func ResolveImage(catalog []types.Image, selector types.ImageSelector) (types.Image, error) {
	switch {
	case selector.ID != "":
		return resolveByID(catalog, selector)
	case len(selector.Owners) > 0:
		return resolveByOwners(catalog, selector)
	case selector.LocationPattern != "":
		return resolveByLocation(catalog, selector)
	default:
		return types.Image{}, &ImageResolutionError{Selector: selector, Reason: "empty selector"}
	}
}

func resolveByID(catalog []types.Image, selector types.ImageSelector) (types.Image, error) {
	for _, img := range catalog {
		if img.ID == selector.ID {
			return img, nil
		}
	}
	return types.Image{}, &ImageResolutionError{Selector: selector, Reason: "no such image in catalog"}
}

func resolveByOwners(catalog []types.Image, selector types.ImageSelector) (types.Image, error) {
	owners := make(map[string]bool, len(selector.Owners))
	for _, o := range selector.Owners {
		owners[o] = true
	}

	var matches []types.Image
	for _, img := range catalog {
		if owners[img.OwnerID] {
			matches = append(matches, img)
		}
	}
	if len(matches) == 0 {
		return types.Image{}, &ImageResolutionError{Selector: selector, Reason: "no images owned by the given accounts"}
	}
	return pickNewest(matches), nil
}

func resolveByLocation(catalog []types.Image, selector types.ImageSelector) (types.Image, error) {
	re, err := regexp.Compile(selector.LocationPattern)
	if err != nil {
		return types.Image{}, &ImageResolutionError{Selector: selector, Reason: "invalid location pattern: " + err.Error()}
	}

	var matches []types.Image
	for _, img := range catalog {
		if re.MatchString(img.Location) {
			matches = append(matches, img)
		}
	}
	if len(matches) == 0 {
		return types.Image{}, &ImageResolutionError{Selector: selector, Reason: "no image location matched"}
	}
	return pickNewest(matches), nil
}

func pickNewest(images []types.Image) types.Image {
	best := images[0]
	for _, img := range images[1:] {
		if img.CreatedAt.After(best.CreatedAt) {
			best = img
			continue
		}
		if img.CreatedAt.Equal(best.CreatedAt) && img.ID > best.ID {
			best = img
		}
	}
	return best
}
