package fetch

import (
	"fmt"
	"sort"
)

// Survey describes one HiPS tile source. Values are immutable once the set
// is built; components receive the set by injection rather than through a
// package-level registry.
type Survey struct {
	Name           string  `json:"name"`
	BaseURL        string  `json:"base_url"`
	Format         string  `json:"format"`
	Description    string  `json:"description,omitempty"`
	TileSize       int     `json:"tile_size"`
	MaxOrder       int     `json:"max_order"`
	ArcsecPerPixel float64 `json:"arcsec_per_pixel"`
}

// TileURL renders the HiPS path for a pixel: tiles are sharded into
// directories of ten thousand.
func (s Survey) TileURL(pix int64, order int) string {
	dir := (pix / 10000) * 10000
	return fmt.Sprintf("%s/Norder%d/Dir%d/Npix%d.%s", s.BaseURL, order, dir, pix, s.Format)
}

// SurveySet is an immutable lookup of surveys by name.
type SurveySet struct {
	byName map[string]Survey
}

// NewSurveySet builds a set from a survey list, rejecting duplicates and
// incomplete definitions.
func NewSurveySet(surveys []Survey) (*SurveySet, error) {
	byName := make(map[string]Survey, len(surveys))
	for _, s := range surveys {
		if s.Name == "" || s.BaseURL == "" || s.Format == "" {
			return nil, fmt.Errorf("survey %q: name, base_url and format are required", s.Name)
		}
		if s.TileSize <= 0 || s.ArcsecPerPixel <= 0 {
			return nil, fmt.Errorf("survey %q: tile_size and arcsec_per_pixel must be positive", s.Name)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("survey %q defined twice", s.Name)
		}
		byName[s.Name] = s
	}
	return &SurveySet{byName: byName}, nil
}

// Get looks up a survey by name.
func (ss *SurveySet) Get(name string) (Survey, bool) {
	s, ok := ss.byName[name]
	return s, ok
}

// Names returns all survey names, sorted.
func (ss *SurveySet) Names() []string {
	names := make([]string, 0, len(ss.byName))
	for n := range ss.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the surveys in name order.
func (ss *SurveySet) All() []Survey {
	out := make([]Survey, 0, len(ss.byName))
	for _, n := range ss.Names() {
		out = append(out, ss.byName[n])
	}
	return out
}

// DefaultSurveys lists the sources known to serve usable tiles. The pixel
// scales are the effective values at each survey's working order.
func DefaultSurveys() []Survey {
	return []Survey{
		{
			Name:           "DSS2 Color",
			BaseURL:        "http://alasky.u-strasbg.fr/DSS/DSSColor",
			Format:         "jpg",
			Description:    "Digitized Sky Survey 2, color composite",
			TileSize:       512,
			MaxOrder:       9,
			ArcsecPerPixel: 1.61,
		},
		{
			Name:           "DSS2 Red",
			BaseURL:        "http://alasky.u-strasbg.fr/DSS/DSS2Merged",
			Format:         "jpg",
			Description:    "Digitized Sky Survey 2, red plates",
			TileSize:       512,
			MaxOrder:       9,
			ArcsecPerPixel: 1.61,
		},
		{
			Name:           "2MASS Color",
			BaseURL:        "http://alasky.u-strasbg.fr/2MASS/Color",
			Format:         "jpg",
			Description:    "Two Micron All Sky Survey JHK composite",
			TileSize:       512,
			MaxOrder:       9,
			ArcsecPerPixel: 3.22,
		},
		{
			Name:           "Mellinger Color",
			BaseURL:        "http://alasky.u-strasbg.fr/MellingerRGB",
			Format:         "jpg",
			Description:    "Mellinger optical all-sky panorama",
			TileSize:       512,
			MaxOrder:       4,
			ArcsecPerPixel: 51.5,
		},
	}
}
