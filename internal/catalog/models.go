package catalog

import "encoding/json"

// Track is one playable catalog entry
type Track struct {
	ID         string `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	ArtworkRef string `json:"artwork_ref"`
	StreamURL  string `json:"stream_url"`
}

// songItem is the wire format of /getSongs
type songItem struct {
	MongoID    string `json:"_id"`
	ID         string `json:"id"`
	Singer     string `json:"singer"`
	SongBanner string `json:"songBanner"`
	SongName   string `json:"songName"`
	URL        string `json:"url"`
}

func (s songItem) toTrack() Track {
	id := s.MongoID
	if id == "" {
		id = s.ID
	}
	return Track{
		ID:         id,
		Artist:     s.Singer,
		Title:      s.SongName,
		ArtworkRef: s.SongBanner,
		StreamURL:  s.URL,
	}
}

// decodeSongs parses a /getSongs body. Entries without an id are dropped.
func decodeSongs(body []byte) ([]Track, error) {
	var items []songItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		track := item.toTrack()
		if track.ID == "" {
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}
