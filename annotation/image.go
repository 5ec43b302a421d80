package annotation

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// DecodeImageConfig reads the dimensions of an image without decoding its pixels
func DecodeImageConfig(filepath string) (image.Config, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// ScanImages lists the images under dir recursively, sorted by their path
// relative to dir. Images whose header cannot be read are kept with zero
// dimensions.
func ScanImages(dir string) ([]domain.ImageRef, error) {
	var ret []domain.ImageRef
	err := filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !IsImageFile(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("while resolving '%s' against '%s': %w", path, dir, err)
		}
		ref := domain.ImageRef{Path: filepath.ToSlash(rel)}
		cfg, err := DecodeImageConfig(path)
		if err != nil {
			log.Printf("ScanImages: while reading header of '%s': %s", path, err)
		} else {
			ref.Width, ref.Height = cfg.Width, cfg.Height
		}
		ret = append(ret, ref)
		return nil
	})
	if err != nil {
		return nil, domain.WrapIO(fmt.Sprintf("scanning images of '%s'", dir), err)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Path < ret[j].Path
	})
	return ret, nil
}
