package story

import (
	"strings"
	"time"
)

type Story struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	Lat         *float64  `json:"lat,omitempty"`
	Lon         *float64  `json:"lon,omitempty"`
}

// HasLocation reports whether the story can be placed on a map.
func (s Story) HasLocation() bool {
	return s.Lat != nil && s.Lon != nil
}

func (s Story) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidEntity
	}
	return nil
}

// Clone returns a value copy that shares no pointers with s.
func (s Story) Clone() Story {
	out := s
	if s.Lat != nil {
		lat := *s.Lat
		out.Lat = &lat
	}
	if s.Lon != nil {
		lon := *s.Lon
		out.Lon = &lon
	}
	return out
}

type NewStory struct {
	Description string
	Photo       []byte
	PhotoName   string
	PhotoType   string
	Lat         *float64
	Lon         *float64
}

// Filter keeps the stories whose name or description contains query,
// ignoring case. An empty query keeps everything.
func Filter(stories []Story, query string) []Story {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Story, 0, len(stories))
	for _, s := range stories {
		if query == "" ||
			strings.Contains(strings.ToLower(s.Name), query) ||
			strings.Contains(strings.ToLower(s.Description), query) {
			out = append(out, s)
		}
	}
	return out
}

func CloneAll(stories []Story) []Story {
	out := make([]Story, len(stories))
	for i, s := range stories {
		out[i] = s.Clone()
	}
	return out
}
