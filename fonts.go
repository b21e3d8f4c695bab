package main

import (
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// FontSpec names a TTF file and the size to load it at.
type FontSpec struct {
	Path string  `yaml:"path"`
	Size float64 `yaml:"size"`
}

func defaultFontSpecs() map[string]FontSpec {
	const sans = "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"
	const bold = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
	return map[string]FontSpec{
		"default": {Path: sans, Size: 24},
		"large":   {Path: bold, Size: 48},
		"small":   {Path: sans, Size: 18},
		"clock":   {Path: bold, Size: 100},
		"date":    {Path: bold, Size: 40},
	}
}

// FontStore loads and caches font faces by name. Lookups never fail: when a
// face cannot be loaded the store logs once and hands out a builtin bitmap
// face so rendering can continue.
type FontStore struct {
	mu     sync.Mutex
	specs  map[string]FontSpec
	faces  map[string]font.Face
	warned map[string]bool
}

// NewFontStore builds a store from the given specs merged over the defaults.
func NewFontStore(specs map[string]FontSpec) *FontStore {
	merged := defaultFontSpecs()
	for name, spec := range specs {
		merged[name] = spec
	}
	return &FontStore{
		specs:  merged,
		faces:  make(map[string]font.Face),
		warned: make(map[string]bool),
	}
}

// Face returns the named face, loading it on first use.
func (s *FontStore) Face(name string) font.Face {
	s.mu.Lock()
	defer s.mu.Unlock()

	if face, ok := s.faces[name]; ok {
		return face
	}
	face, err := s.load(name)
	if err != nil {
		if !s.warned[name] {
			log.Printf("fonts: %v, using builtin face", err)
			s.warned[name] = true
		}
		face = basicfont.Face7x13
	}
	s.faces[name] = face
	return face
}

// FaceSized returns the named face at an overridden point size, loading and
// caching it independently of the base face.
func (s *FontStore) FaceSized(name string, size float64) font.Face {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s@%g", name, size)
	if face, ok := s.faces[key]; ok {
		return face
	}
	spec, ok := s.specs[name]
	if ok {
		spec.Size = size
		if face, err := loadFace(spec); err == nil {
			s.faces[key] = face
			return face
		} else if !s.warned[key] {
			log.Printf("fonts: %v, using builtin face", err)
			s.warned[key] = true
		}
	}
	s.faces[key] = basicfont.Face7x13
	return basicfont.Face7x13
}

func (s *FontStore) load(name string) (font.Face, error) {
	spec, ok := s.specs[name]
	if !ok {
		return nil, fmt.Errorf("font %q not in mapping", name)
	}
	return loadFace(spec)
}

func loadFace(spec FontSpec) (font.Face, error) {
	fontBytes, err := os.ReadFile(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("font %s: %w", spec.Path, err)
	}
	ttf, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("font %s: parse: %w", spec.Path, err)
	}
	return opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    spec.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
