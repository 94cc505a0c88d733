package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
)

// ErrNoTags is returned by ReadTags when the file carries no usable tags
var ErrNoTags = errors.New("no tags found")

// Manager reads and writes ID3 tags on downloaded audio
type Manager struct{}

// TrackMetadata is the subset of tags the registry cares about
type TrackMetadata struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   int
}

// NewManager creates a new metadata manager
func NewManager() *Manager {
	return &Manager{}
}

// ApplyMetadata writes ID3v2.4 tags into the file at filePath. The file is
// rewritten, so any open handle on it keeps pointing at the old contents.
func (m *Manager) ApplyMetadata(filePath string, metadata *TrackMetadata) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}

	mp3Tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer mp3Tag.Close()

	mp3Tag.SetVersion(4)
	mp3Tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if metadata.Title != "" {
		mp3Tag.SetTitle(metadata.Title)
	}
	if metadata.Artist != "" {
		mp3Tag.SetArtist(metadata.Artist)
	}
	if metadata.Album != "" {
		mp3Tag.SetAlbum(metadata.Album)
	}
	if metadata.Genre != "" {
		mp3Tag.SetGenre(metadata.Genre)
	}
	if metadata.Year > 0 {
		mp3Tag.SetYear(fmt.Sprint(metadata.Year))
	}

	if err := mp3Tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 file: %w", err)
	}
	return nil
}

// ReadTags reads whatever tags the file carries (ID3v1/v2, MP4, FLAC, OGG)
func (m *Manager) ReadTags(filePath string) (*TrackMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return nil, ErrNoTags
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	metadata := &TrackMetadata{
		Title:  strings.TrimSpace(meta.Title()),
		Artist: strings.TrimSpace(meta.Artist()),
		Album:  strings.TrimSpace(meta.Album()),
		Genre:  strings.TrimSpace(meta.Genre()),
		Year:   meta.Year(),
	}
	if metadata.Title == "" && metadata.Artist == "" {
		return nil, ErrNoTags
	}
	return metadata, nil
}

