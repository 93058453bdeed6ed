package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "tableware-inspector/internal/errors"

	"gocv.io/x/gocv"
)

// DecodeImage decodes an encoded image (JPEG, PNG, BMP and the other formats
// OpenCV reads) into a BGR Mat owned by the caller.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), apperrors.NewValidationError("image data is empty", nil)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), apperrors.NewValidationError("failed to decode image", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), apperrors.NewValidationError("unsupported or corrupt image data", nil)
	}

	return mat, nil
}

// LoadImageFile reads and decodes the image at path.
func LoadImageFile(path string) (gocv.Mat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return gocv.NewMat(), apperrors.NewNotFoundError("image not found: "+path, err)
		}
		return gocv.NewMat(), apperrors.NewIOError("failed to read image", err)
	}

	mat, err := DecodeImage(data)
	if err != nil {
		return mat, fmt.Errorf("%s: %w", path, err)
	}
	return mat, nil
}

// EncodeMask encodes a mask as PNG.
func EncodeMask(mask gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mask)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to encode mask", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// SaveMask writes mask as PNG into dir, named after the source image.
func SaveMask(dir, source string, mask gocv.Mat) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.NewIOError("failed to create mask directory", err)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	path := filepath.Join(dir, base+"_mask.png")

	data, err := EncodeMask(mask)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperrors.NewIOError("failed to write mask", err)
	}
	return path, nil
}
